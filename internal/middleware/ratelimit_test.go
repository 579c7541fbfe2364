package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/settlement/internal/logging"
)

func TestGuestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Use(GuestRateLimit(cache, 2, logging.Discard()))
	app.Post("/guest", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i, want := range []int{fiber.StatusOK, fiber.StatusOK, fiber.StatusTooManyRequests} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/guest", nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != want {
			t.Fatalf("request %d: expected %d got %d", i, want, resp.StatusCode)
		}
	}
	keys := mr.Keys()
	if len(keys) != 1 || mr.TTL(keys[0]) <= 0 {
		t.Fatalf("expected one expiring window key, got %v", keys)
	}
}

func TestGuestRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Use(GuestRateLimit(nil, 1, logging.Discard()))
	app.Post("/guest", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/guest", nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, resp.StatusCode)
		}
	}
}
