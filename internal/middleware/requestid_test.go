package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{name: "generated", inbound: "", reuse: false},
		{name: "inbound kept", inbound: "trace-abc-123", reuse: true},
		{name: "too long replaced", inbound: strings.Repeat("a", 65), reuse: false},
		{name: "spaces replaced", inbound: "bad id", reuse: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(requestIDHeader, tt.inbound)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			got := resp.Header.Get(requestIDHeader)
			require.NotEmpty(t, got)
			if tt.reuse {
				assert.Equal(t, tt.inbound, got)
			} else {
				assert.NotEqual(t, tt.inbound, got)
			}
		})
	}
}
