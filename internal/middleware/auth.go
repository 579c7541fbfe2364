package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/config"
)

const callerKey = "user_id"

var (
	errMissingToken  = apperr.New(apperr.Unauthenticated, "missing bearer token")
	errInvalidToken  = apperr.New(apperr.Unauthenticated, "invalid token")
	errMissingCaller = apperr.New(apperr.Unauthenticated, "caller identity required")
)

// CallerAuth verifies an HS256 bearer token and stores its subject as the
// caller id for downstream handlers.
func CallerAuth(cfg config.JWTConfig) fiber.Handler {
	secret := []byte(cfg.Secret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return errMissingToken
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		var claims jwt.RegisteredClaims
		_, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.Wrap(apperr.Unauthenticated, err, "token expired")
			}
			return apperr.Wrap(apperr.Unauthenticated, err, errInvalidToken.Message())
		}
		sub := strings.TrimSpace(claims.Subject)
		if sub == "" {
			return errInvalidToken
		}

		c.Locals(callerKey, sub)
		return c.Next()
	}
}

// CallerID returns the authenticated caller stored by CallerAuth.
func CallerID(c *fiber.Ctx) (string, error) {
	id, _ := c.Locals(callerKey).(string)
	if id == "" {
		return "", errMissingCaller
	}
	return id, nil
}
