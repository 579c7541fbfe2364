package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// GuestRateLimit caps unauthenticated requests per client IP in fixed
// one-minute windows. Without Redis, or when Redis fails, requests pass.
func GuestRateLimit(cache *redis.Client, maxPerMin int, logger zerolog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 20
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		key := "rl:guest:" + c.IP()
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn().Err(err).Msg("guest rate limit unavailable")
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
