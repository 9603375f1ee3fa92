package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/ahmedmanch666/slam/internal/cache"
	"github.com/ahmedmanch666/slam/internal/config"
	"github.com/ahmedmanch666/slam/internal/log"
	"github.com/ahmedmanch666/slam/internal/queue"
	"github.com/ahmedmanch666/slam/internal/storage"
	"github.com/ahmedmanch666/slam/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.NewWithLevel(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Redis.Enabled {
		logger.Fatal().Msg("worker requires redis.enabled=true")
	}
	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	var archiver tasks.Archiver
	if cfg.Storage.Endpoint != "" {
		objectStore, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := objectStore.EnsureBuckets(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure buckets failed")
		}
		archiver = objectStore
	} else {
		logger.Warn().Msg("storage endpoint not set: session reports are logged only")
	}

	processor := tasks.NewProcessor(logger, archiver)
	consumer := queue.NewConsumer(client, queue.Options{
		Stream:        cfg.Redis.Stream,
		Group:         cfg.Redis.Group,
		Consumer:      cfg.Redis.Consumer,
		ClaimInterval: cfg.Queues.ClaimInterval,
		MinIdle:       cfg.Queues.MinIdle,
	}, logger, processor)

	logger.Info().
		Str("stream", cfg.Redis.Stream).
		Str("group", cfg.Redis.Group).
		Str("consumer", cfg.Redis.Consumer).
		Msg("worker started")

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
	}
	logger.Info().Msg("worker exited cleanly")
}
