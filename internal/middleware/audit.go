package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/congo-pay/settlement/internal/apperr"
)

// Audit emits one structured log line per request.
func Audit(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = apperr.HTTPStatus(apperr.KindOf(err))
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		event := logger.Info()
		if err != nil && status >= fiber.StatusInternalServerError {
			event = logger.Error().Err(err)
		} else if err != nil {
			event = logger.Warn().Err(err)
		}

		event = event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", time.Since(start))
		if requestID := RequestIDFrom(c); requestID != "" {
			event = event.Str("request_id", requestID)
		}
		if uid, _ := c.Locals(callerKey).(string); uid != "" {
			event = event.Str("user_id", uid)
		}
		event.Msg("request completed")
		return err
	}
}
