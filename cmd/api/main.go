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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	api "content-pipeline-scheduler/internal/api"
	"content-pipeline-scheduler/internal/config"
	"content-pipeline-scheduler/internal/dispatch"
	"content-pipeline-scheduler/internal/execlog"
	"content-pipeline-scheduler/internal/logging"
	"content-pipeline-scheduler/internal/queue"
	"content-pipeline-scheduler/internal/ratelimit"
	"content-pipeline-scheduler/internal/store"
	"content-pipeline-scheduler/internal/webhook"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "pipeline-api",
	Short:         "Serve worker callbacks and workflow administration",
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

	var archiver execlog.Archiver
	if s3Archiver, err := execlog.NewS3Archiver(ctx, cfg); err != nil {
		return err
	} else if s3Archiver != nil {
		archiver = s3Archiver
	}
	logs := execlog.New(st, archiver, cfg.LogArchiveThreshold, logger)

	reconciler := webhook.NewReconciler(st, logs, logger, webhook.Options{RejectTerminal: cfg.WebhookRejectTerminal})
	dispatcher := dispatch.New(st, q, dispatch.OptionsFromConfig(cfg), logger)

	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer limiterClient.Close()
	limiter := ratelimit.NewTokenBucket(limiterClient, cfg.TestRunCapacity, cfg.TestRunRefill, time.Hour)

	server, err := api.New(cfg, api.Deps{
		Store:      st,
		Reconciler: reconciler,
		Runner:     dispatcher,
		Limiter:    limiter,
	}, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("api listening", "env", cfg.Env, "port", cfg.HTTPPort, "queue_driver", cfg.QueueDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
