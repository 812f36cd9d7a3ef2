package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"content-pipeline-scheduler/internal/config"
	"content-pipeline-scheduler/internal/dispatch"
	"content-pipeline-scheduler/internal/logging"
	"content-pipeline-scheduler/internal/queue"
	"content-pipeline-scheduler/internal/scheduler"
	"content-pipeline-scheduler/internal/store"
	"content-pipeline-scheduler/internal/telemetry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "pipeline-scheduler",
	Short:         "Fire workflow triggers and dispatch stage tasks",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional config file (env vars take precedence)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		return err
	}

	q, err := queue.New(cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	dispatcher := dispatch.New(st, q, dispatch.OptionsFromConfig(cfg), logger)
	runtime := scheduler.New(dispatcher, loc, logger)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnw("metrics server stopped", "error", err)
		}
	}()

	runtime.Start(ctx)
	logger.Infow("scheduler started", "env", cfg.Env,
		"tz", loc.String(), "sync_interval", cfg.SchedulerSyncInterval, "blog_upload_offset", cfg.BlogUploadOffset)

	err = runtime.Run(ctx, st, cfg.SchedulerSyncInterval, cfg.BackoffInitial, cfg.BackoffMax)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runtime.Stop(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
