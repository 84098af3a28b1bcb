package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/logging"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/storage"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/dunamismax/pixelnorm/internal/telemetry"
	"github.com/dunamismax/pixelnorm/internal/webhook"
	"github.com/dunamismax/pixelnorm/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{}, "worker")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Trace("worker"), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		return err
	}
	defer pipeline.Shutdown()

	stages, err := pipeline.NewStages(pipeline.DefaultCodec(), cfg.Normalize.Pipeline(), logger)
	if err != nil {
		return err
	}

	jobStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	storageClient, err := storage.NewClient(cfg.Storage.Client(cfg.Normalize.MaxSourceBytes))
	if err != nil {
		return err
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.Secret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Logger:         logger,
	})

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Str("codec", pipeline.CodecName()).
		Msg("starting worker")

	srv, err := worker.NewServer(worker.Options{
		Logger:    logger,
		Queue:     cfg.Queue,
		Worker:    cfg.Worker,
		Normalize: cfg.Normalize,
		Stages:    stages,
		Storage:   storageClient,
		Webhook:   webhookClient,
		Jobs:      jobStore,
		Usage:     jobStore,
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	if err := srv.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics shutdown failed")
	}
	return nil
}
