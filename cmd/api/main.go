package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelnorm/internal/api"
	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/logging"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/queue"
	"github.com/dunamismax/pixelnorm/internal/ratelimit"
	"github.com/dunamismax/pixelnorm/internal/storage"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/dunamismax/pixelnorm/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{}, "api")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Trace("api"), logger)
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
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		logger.Warn().Err(err).Str("bucket", storageClient.Bucket()).Msg("bucket unavailable, presigned uploads will fail")
	}
	cancel()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close")
		}
	}()

	opts := api.Options{
		Logger:         logger,
		Queue:          queueClient,
		Jobs:           jobStore,
		Storage:        storageClient,
		Stages:         stages,
		Defaults:       cfg.Normalize.Defaults(),
		PresignTTL:     cfg.API.PresignExpiry,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		BytesPerToken:  cfg.RateLimit.BytesCost,
		UserIDHeader:   cfg.API.UserIDHeader,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(cfg.Queue.RedisOptions())
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			return err
		}
		opts.RateLimiter = limiter
	}

	app, err := api.NewServer(opts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("codec", pipeline.CodecName()).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
