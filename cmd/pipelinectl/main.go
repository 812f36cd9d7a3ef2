package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"content-pipeline-scheduler/internal/config"
	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/store"
	"content-pipeline-scheduler/internal/trigger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "pipelinectl",
	Short:         "Operator tooling for the content pipeline scheduler",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional config file (env vars take precedence)")
	rootCmd.AddCommand(compileCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func compileCmd() *cobra.Command {
	var (
		file   string
		offset time.Duration
		tz     string
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Print the trigger expressions a recurrence rule compiles to",
		Example: `  pipelinectl compile -f rule.yaml
  pipelinectl compile -f rule.yaml --offset 45m --tz Asia/Seoul`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return errors.Wrap(err, "read rule")
			}
			var rule models.RecurrenceRule
			if err := yaml.Unmarshal(raw, &rule); err != nil {
				return errors.Wrap(err, "parse rule")
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return errors.Wrapf(err, "load timezone %q", tz)
			}
			rows, err := trigger.TriggerRows("", rule, loc, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, row := range rows {
				fmt.Fprintf(out, "%-16s %s\n", row.Job, row.Expression)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML recurrence rule")
	cmd.Flags().DurationVar(&offset, "offset", 30*time.Minute, "blog upload offset after content generation")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "timezone start_at is read in")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			st, err := store.New(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.RunMigrations(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
