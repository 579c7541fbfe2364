package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/congo-pay/settlement/internal/apperr"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v2:"
	inProgressMarker     = "__in_progress__"
	idempotencyTimeout   = 2 * time.Second
	maxIdempotencyKeyLen = 128
)

var (
	errMissingIdempotencyKey = apperr.New(apperr.InvalidArgument, "missing Idempotency-Key header")
	errIdempotencyKeyTooLong = apperr.New(apperr.InvalidArgument, "Idempotency-Key is too long")
	errIdempotencyKeyReused  = apperr.New(apperr.InvalidArgument, "Idempotency-Key was used for a different request")
	errRequestInProgress     = apperr.New(apperr.FailedPrecondition, "duplicate request currently processing")
	errIdempotencyStore      = apperr.New(apperr.Internal, "idempotency store failure")
)

type storedResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
}

// Idempotency replays the first response recorded for a caller's
// Idempotency-Key on unsafe methods. Keys are scoped per caller and route,
// and a key presented with a different body is rejected.
func Idempotency(cache *redis.Client, ttl time.Duration, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return errMissingIdempotencyKey
		}
		if len(key) > maxIdempotencyKeyLen {
			return errIdempotencyKeyTooLong
		}

		caller, _ := c.Locals(callerKey).(string)
		cacheKey := idempotencyPrefix + caller + ":" + c.Method() + ":" + c.Path() + ":" + key
		fingerprint := fingerprintOf(c.Body())
		log := logger.With().Str("idempotency_key", key).Str("user_id", caller).Logger()

		ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
		defer cancel()

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			log.Error().Err(err).Msg("idempotency reservation failed")
			return errIdempotencyStore
		}
		if !reserved {
			return replay(c, cache, cacheKey, fingerprint, log)
		}

		if err := c.Next(); err != nil {
			release(cache, cacheKey, log)
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			release(cache, cacheKey, log)
			return nil
		}

		stored := storedResponse{
			Fingerprint: fingerprint,
			Status:      status,
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode idempotent response")
			release(cache, cacheKey, log)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			log.Error().Err(err).Msg("failed to persist idempotent response")
			release(cache, cacheKey, log)
		}
		return nil
	}
}

func replay(c *fiber.Ctx, cache *redis.Client, cacheKey, fingerprint string, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()

	cached, err := cache.Get(ctx, cacheKey).Result()
	if errors.Is(err, redis.Nil) || cached == inProgressMarker {
		return errRequestInProgress
	}
	if err != nil {
		log.Error().Err(err).Msg("idempotency lookup failed")
		return errIdempotencyStore
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		log.Warn().Err(err).Msg("failed to decode stored idempotent response")
		return errRequestInProgress
	}
	if stored.Fingerprint != fingerprint {
		return errIdempotencyKeyReused
	}

	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(stored.Status).SendString(stored.Body)
}

func release(cache *redis.Client, cacheKey string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	if err := cache.Del(ctx, cacheKey).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to release idempotency key")
	}
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
