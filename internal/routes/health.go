package routes

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 2 * time.Second

type probe struct {
	name  string
	check func(context.Context) error
}

// RegisterHealthRoutes exposes /livez, /healthz (dependency probes) and /metrics.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	var probes []probe
	if d.DB != nil {
		probes = append(probes, probe{name: "postgres", check: d.DB.Ping})
	}
	if d.Cache != nil {
		probes = append(probes, probe{name: "redis", check: func(ctx context.Context) error {
			return d.Cache.Ping(ctx).Err()
		}})
	}

	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
		defer cancel()

		var mu sync.Mutex
		results := fiber.Map{}
		healthy := true
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range probes {
			g.Go(func() error {
				state := "ok"
				if err := p.check(gctx); err != nil {
					state = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				results[p.name] = state
				healthy = healthy && state == "ok"
				return nil
			})
		}
		_ = g.Wait()

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"ok":        healthy,
			"checks":    results,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
