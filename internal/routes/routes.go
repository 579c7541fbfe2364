package routes

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/congo-pay/settlement/internal/config"
	"github.com/congo-pay/settlement/internal/currency"
	"github.com/congo-pay/settlement/internal/funding"
	"github.com/congo-pay/settlement/internal/guard"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/middleware"
	"github.com/congo-pay/settlement/internal/notification"
	"github.com/congo-pay/settlement/internal/orders"
	"github.com/congo-pay/settlement/internal/payments"
	"github.com/congo-pay/settlement/internal/paypal"
	"github.com/congo-pay/settlement/internal/rides"
	"github.com/congo-pay/settlement/internal/wallet"
)

const (
	captureLockTTL = 2 * time.Minute
	webhookSeenTTL = 72 * time.Hour
)

// Deps aggregates shared dependencies required to wire routes. Store and
// Gateway are built from DB and Cfg when left nil.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Notifier notification.Notifier
	Store    ledger.Store
	Gateway  funding.Gateway
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil && d.Store == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New(recover.Config{EnableStackTrace: isDev(d.Cfg.AppEnv)}))
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	store := d.Store
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgresStore(d.DB, d.Cfg.StoreMaxRetries)
		} else {
			store = ledger.NewMemoryStore()
		}
	}
	engine := ledger.NewEngine(store, d.Cfg.BaseCurrency)

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	fx := currency.NewConverter(currency.DefaultProviders(d.Cfg.FX),
		currency.WithLogger(d.Logger.With().Str("component", "fx").Logger()),
		currency.WithMetrics(d.Metrics),
		currency.WithFailClosed(d.Cfg.FX.FailClosed),
	)

	gateway := d.Gateway
	if gateway == nil {
		client, err := paypal.NewClient(d.Cfg.PayPal, fx,
			paypal.WithLogger(d.Logger.With().Str("component", "paypal").Logger()),
			paypal.WithMetrics(d.Metrics),
		)
		if err != nil {
			return err
		}
		gateway = client
	}

	fundingOpts := []funding.Option{
		funding.WithNotifier(notifier),
		funding.WithMetrics(d.Metrics),
		funding.WithLogger(d.Logger.With().Str("component", "funding").Logger()),
		funding.WithSettleRetry(d.Cfg.SettleRetryAttempts, 0),
	}
	if d.Cache != nil {
		fundingOpts = append(fundingOpts,
			funding.WithCaptureLock(guard.New(d.Cache, "capture", captureLockTTL)),
			funding.WithEventGuard(guard.New(d.Cache, "webhook", webhookSeenTTL)),
		)
	}
	fundingSvc, err := funding.NewService(engine, gateway, fx, fundingOpts...)
	if err != nil {
		return err
	}

	walletSvc := wallet.NewService(engine)
	paymentSvc := payments.NewService(engine, notifier, d.Metrics, d.Logger.With().Str("component", "payments").Logger())
	rideSvc := rides.NewService(engine, d.Cfg.FeeRate(), notifier, d.Metrics, d.Logger.With().Str("component", "rides").Logger())
	orderSvc := orders.NewService(engine, notifier, d.Metrics, d.Logger.With().Str("component", "orders").Logger())

	fundingHandler := funding.NewHandler(fundingSvc)

	// Public routes
	guestLimiter := middleware.GuestRateLimit(d.Cache, d.Cfg.GuestRateLimit, d.Logger)
	RegisterGuestRoutes(app, fundingHandler, guestLimiter)
	RegisterWebhookRoutes(app, fundingHandler)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFrom(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Protected routes
	protected := api.Group("", middleware.CallerAuth(d.Cfg.JWT))
	idempotent := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterFundingRoutes(protected, fundingHandler)
	RegisterPaymentRoutes(protected, payments.NewHandler(paymentSvc), idempotent)
	RegisterRideRoutes(protected, rides.NewHandler(rideSvc))
	RegisterOrderRoutes(protected, orders.NewHandler(orderSvc), idempotent)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
