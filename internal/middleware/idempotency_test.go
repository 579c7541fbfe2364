package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	calls := &atomic.Int32{}
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperr.HTTPStatus(apperr.KindOf(err)))
		},
	})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(callerKey, c.Get("X-Test-User", "alice"))
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": n})
	})
	return app, calls
}

func post(t *testing.T, app *fiber.App, key, user, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _ := setupTestApp(t)

	if status, _ := post(t, app, "", "", "{}"); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t)

	status, payload := post(t, app, "abc123", "", `{"amount":"10"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	status2, cached := post(t, app, "abc123", "", `{"amount":"10"}`)
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status2)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysAreScopedPerCaller(t *testing.T) {
	app, calls := setupTestApp(t)

	post(t, app, "shared", "alice", "{}")
	post(t, app, "shared", "bob", "{}")
	if calls.Load() != 2 {
		t.Fatalf("expected each caller to reach the handler, got %d calls", calls.Load())
	}
}

func TestIdempotencyRejectsReusedKeyWithDifferentBody(t *testing.T) {
	app, _ := setupTestApp(t)

	post(t, app, "k1", "", `{"amount":"10"}`)
	if status, _ := post(t, app, "k1", "", `{"amount":"99"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}
