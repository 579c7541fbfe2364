package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient connects the idempotency and guard cache.
func NewRedisClient(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis: %w", errURLRequired)
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := waitFor(ctx, logger, "redis", ping); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
