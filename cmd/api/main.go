package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ahmedmanch666/slam/internal/cache"
	"github.com/ahmedmanch666/slam/internal/config"
	"github.com/ahmedmanch666/slam/internal/database"
	"github.com/ahmedmanch666/slam/internal/events"
	"github.com/ahmedmanch666/slam/internal/handlers"
	"github.com/ahmedmanch666/slam/internal/jobs"
	"github.com/ahmedmanch666/slam/internal/log"
	"github.com/ahmedmanch666/slam/internal/metrics"
	"github.com/ahmedmanch666/slam/internal/repository"
	"github.com/ahmedmanch666/slam/internal/repository/memory"
	"github.com/ahmedmanch666/slam/internal/repository/postgres"
	"github.com/ahmedmanch666/slam/internal/repository/sqlite"
	"github.com/ahmedmanch666/slam/internal/security"
	"github.com/ahmedmanch666/slam/internal/server"
	"github.com/ahmedmanch666/slam/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open session store")
	}

	tokens, err := security.NewIssuer(cfg.Security.JWTAccessSecret, cfg.Security.JWTRefreshSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init token issuer")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	m := metrics.New()
	opts := []service.Option{
		service.WithMetrics(m),
		service.WithBootstrap(service.BootstrapAdmin{
			Enabled:  cfg.Bootstrap.Enabled,
			Email:    cfg.Bootstrap.Email,
			Password: cfg.Bootstrap.Password,
		}),
	}

	var publisher *events.Publisher
	if redisClient != nil {
		publisher = events.NewPublisher(redisClient, cfg.Redis.Stream)
		opts = append(opts, service.WithEvents(publisher))
	} else {
		logger.Warn().Msg("redis disabled: no auth event stream, no rate limiting")
	}
	if cfg.Bootstrap.Enabled {
		logger.Warn().Str("email", cfg.Bootstrap.Email).Msg("bootstrap admin enabled")
	}

	authService := service.NewAuthService(store, tokens, logger, opts...)

	handlerSet := handlers.NewHandlerSet(handlers.Dependencies{
		Log:         logger,
		Config:      cfg,
		AuthService: authService,
		Tokens:      tokens,
		Store:       store,
		Cache:       redisClient,
		Metrics:     m,
	})
	engine := server.NewRouter(cfg, logger, m, handlerSet)
	httpServer := server.NewHTTPServer(cfg, logger, engine)

	var scheduler *jobs.Scheduler
	if publisher != nil {
		scheduler = jobs.NewScheduler(authService, publisher, cfg.Jobs.SessionReportSpec, logger)
		if err := scheduler.Start(); err != nil {
			logger.Error().Err(err).Msg("scheduler start failed")
			scheduler = nil
		}
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, store, redisClient)
}

// openStore connects the configured backend and migrates it.
func openStore(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (repository.SessionStore, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil
	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateSQLite(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		return sqlite.New(db), nil
	case config.StoreDriverMemory:
		logger.Warn().Msg("memory store: sessions are lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, store repository.SessionStore, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("scheduler stop timed out")
		}
	}

	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
