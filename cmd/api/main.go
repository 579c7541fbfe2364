package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/settlement/internal/config"
	"github.com/congo-pay/settlement/internal/infra"
	"github.com/congo-pay/settlement/internal/logging"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/notification"
	"github.com/congo-pay/settlement/internal/routes"
	"github.com/congo-pay/settlement/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("settlement", "info")
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.AppName, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("server exited cleanly")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pool
	} else {
		logger.Warn().Msg("DATABASE_URL not set, ledger runs in memory")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("close redis")
			}
		}()
		cache = client
	} else {
		logger.Warn().Msg("REDIS_URL not set, idempotency and capture guards disabled")
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.Topic != "" {
		client, err := infra.NewPubSubClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return err
		}
		defer client.Close()
		publisher := client.Publisher(infra.TopicName(cfg.PubSub.ProjectID, cfg.PubSub.Topic))
		defer publisher.Stop()
		notifier = notification.Fanout{notifier, notification.NewPubSubNotifier(publisher)}
	}

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Address()).Str("env", cfg.AppEnv).Msg("listening")
		return srv.Listen()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
