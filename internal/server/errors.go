package server

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/middleware"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

// ErrorHandler renders every failure as {"ok":false,"error":{...}}.
// Internal failures never expose their cause to the caller.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, body := describe(err)
		if status >= http.StatusInternalServerError {
			requestID := middleware.RequestIDFrom(c)
			logger.Error().Err(err).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("request_id", requestID).
				Msg("request failed")
		}
		return c.Status(status).JSON(errorEnvelope{OK: false, Error: body})
	}
}

func describe(err error) (int, errorBody) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, errorBody{Code: codeForStatus(fe.Code), Message: fe.Message}
	}
	if ae := apperr.As(err); ae != nil {
		return apperr.HTTPStatus(ae.Kind()), errorBody{
			Code:    string(ae.Kind()),
			Message: ae.Message(),
			Details: ae.Details(),
		}
	}
	return http.StatusInternalServerError, errorBody{Code: string(apperr.Internal), Message: "internal error"}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return string(apperr.InvalidArgument)
	case http.StatusUnauthorized:
		return string(apperr.Unauthenticated)
	case http.StatusForbidden:
		return string(apperr.PermissionDenied)
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return string(apperr.NotFound)
	case http.StatusConflict:
		return string(apperr.FailedPrecondition)
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	}
	return string(apperr.Internal)
}
