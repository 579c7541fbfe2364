package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	connectAttempts = 5

	poolMaxConns        = 20
	poolMaxConnIdleTime = 5 * time.Minute
	poolHealthCheck     = 30 * time.Second
)

var (
	connectBackoff = 500 * time.Millisecond

	errURLRequired = errors.New("connection url is required")
)

// NewPostgresPool opens the ledger pool and waits until Postgres answers a
// ping. Startup tolerates a database that comes up a few seconds late.
func NewPostgresPool(ctx context.Context, url string, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres: %w", errURLRequired)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns < poolMaxConns {
		cfg.MaxConns = poolMaxConns
	}
	cfg.MaxConnIdleTime = poolMaxConnIdleTime
	cfg.HealthCheckPeriod = poolHealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := waitFor(ctx, logger, "postgres", pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func waitFor(ctx context.Context, logger zerolog.Logger, name string, ping func(context.Context) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(connectAttempts-1, retry.NewExponential(connectBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := ping(ctx); err != nil {
			logger.Warn().Err(err).Str("dependency", name).Int("attempt", attempt).Msg("dependency not ready")
			return retry.RetryableError(err)
		}
		return nil
	})
}
