// Package guard provides short-lived Redis markers used to deduplicate
// webhook deliveries and to serialize work on a single gateway order.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "guard:v1:"

var errIDRequired = errors.New("guard id is required")

// Guard marks ids within a scope using SETNX.
type Guard struct {
	cache *redis.Client
	scope string
	ttl   time.Duration
}

// New constructs a guard for scope whose markers expire after ttl.
func New(cache *redis.Client, scope string, ttl time.Duration) *Guard {
	return &Guard{cache: cache, scope: scope, ttl: ttl}
}

// Acquire marks id and reports whether this call placed the marker.
func (g *Guard) Acquire(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errIDRequired
	}
	set, err := g.cache.SetNX(ctx, g.key(id), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("guard %s acquire: %w", g.scope, err)
	}
	return set, nil
}

// Release removes the marker for id.
func (g *Guard) Release(ctx context.Context, id string) error {
	if id == "" {
		return errIDRequired
	}
	if err := g.cache.Del(ctx, g.key(id)).Err(); err != nil {
		return fmt.Errorf("guard %s release: %w", g.scope, err)
	}
	return nil
}

func (g *Guard) key(id string) string {
	return keyPrefix + g.scope + ":" + id
}
