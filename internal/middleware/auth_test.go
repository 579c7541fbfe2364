package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/config"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func authApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperr.HTTPStatus(apperr.KindOf(err)))
		},
	})
	app.Use(CallerAuth(config.JWTConfig{Secret: "s3cret", Issuer: "settlement"}))
	app.Get("/me", func(c *fiber.Ctx) error {
		uid, err := CallerID(c)
		if err != nil {
			return err
		}
		return c.SendString(uid)
	})
	return app
}

func TestCallerAuth(t *testing.T) {
	app := authApp()
	valid := signToken(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "settlement",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	expired := signToken(t, "s3cret", jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "settlement",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongKey := signToken(t, "other", jwt.RegisteredClaims{Subject: "user-1", Issuer: "settlement"})
	wrongIssuer := signToken(t, "s3cret", jwt.RegisteredClaims{Subject: "user-1", Issuer: "someone-else"})
	noSubject := signToken(t, "s3cret", jwt.RegisteredClaims{Issuer: "settlement"})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, fiber.StatusOK},
		{"missing", "", fiber.StatusUnauthorized},
		{"not bearer", "Basic abc", fiber.StatusUnauthorized},
		{"expired", "Bearer " + expired, fiber.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, fiber.StatusUnauthorized},
		{"wrong issuer", "Bearer " + wrongIssuer, fiber.StatusUnauthorized},
		{"no subject", "Bearer " + noSubject, fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set(fiber.HeaderAuthorization, tc.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.status, resp.StatusCode)
		}
	}
}

func TestCallerIDWithoutAuth(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperr.HTTPStatus(apperr.KindOf(err)))
		},
	})
	app.Get("/", func(c *fiber.Ctx) error {
		_, err := CallerID(c)
		return err
	})
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.StatusCode)
	}
}
