package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	PayPalEnvSandbox = "sandbox"
	PayPalEnvLive    = "live"

	maxPlatformFeeRate = 0.95
)

// Config captures application runtime configuration loaded from environment variables.
// It is loaded once at startup and handed to components by value.
type Config struct {
	AppName        string        `envconfig:"APP_NAME" default:"CongoPay"`
	AppEnv         string        `envconfig:"APP_ENV" default:"development"`
	Port           string        `envconfig:"PORT" default:"8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	ShutdownPeriod time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	BaseCurrency    string  `envconfig:"BASE_CURRENCY" default:"XAF"`
	PlatformFeeRate float64 `envconfig:"PLATFORM_FEE_RATE" default:"0.20"`

	StoreMaxRetries     uint64 `envconfig:"STORE_MAX_RETRIES" default:"5"`
	SettleRetryAttempts uint64 `envconfig:"SETTLE_RETRY_ATTEMPTS" default:"5"`
	GuestRateLimit      int    `envconfig:"GUEST_RATE_LIMIT_PER_MIN" default:"20"`

	PayPal PayPalConfig
	FX     FXConfig
	JWT    JWTConfig
	PubSub PubSubConfig
}

type PayPalConfig struct {
	Env              string        `envconfig:"PAYPAL_ENV" default:"sandbox"`
	ClientID         string        `envconfig:"PAYPAL_CLIENT_ID"`
	ClientSecret     string        `envconfig:"PAYPAL_CLIENT_SECRET"`
	WebhookID        string        `envconfig:"PAYPAL_WEBHOOK_ID"`
	FallbackCurrency string        `envconfig:"PAYPAL_FALLBACK_CURRENCY" default:"USD"`
	Timeout          time.Duration `envconfig:"PAYPAL_TIMEOUT" default:"15s"`

	SupportedCurrencies []string `envconfig:"PAYPAL_SUPPORTED_CURRENCIES" default:"AUD,BRL,CAD,CNY,CZK,DKK,EUR,HKD,HUF,ILS,JPY,MYR,MXN,TWD,NZD,NOK,PHP,PLN,GBP,SGD,SEK,CHF,THB,USD"`
}

type FXConfig struct {
	APIKey       string        `envconfig:"FX_API_KEY"`
	PrimaryURL   string        `envconfig:"FX_PRIMARY_URL" default:"https://v6.exchangerate-api.com"`
	SecondaryURL string        `envconfig:"FX_SECONDARY_URL" default:"https://open.er-api.com"`
	TertiaryURL  string        `envconfig:"FX_TERTIARY_URL" default:"https://api.frankfurter.app"`
	Timeout      time.Duration `envconfig:"FX_TIMEOUT" default:"5s"`
	FailClosed   bool          `envconfig:"FX_FAIL_CLOSED" default:"false"`
}

type JWTConfig struct {
	Secret string `envconfig:"JWT_SECRET"`
	Issuer string `envconfig:"JWT_ISSUER"`
}

type PubSubConfig struct {
	ProjectID string `envconfig:"PUBSUB_PROJECT_ID"`
	Topic     string `envconfig:"PUBSUB_TOPIC"`
}

// Enabled reports whether settlement events should be published to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWT.Secret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.BaseCurrency = strings.ToUpper(strings.TrimSpace(cfg.BaseCurrency))
	if len(cfg.BaseCurrency) != 3 {
		return Config{}, fmt.Errorf("invalid BASE_CURRENCY %q", cfg.BaseCurrency)
	}
	cfg.PlatformFeeRate = clampFeeRate(cfg.PlatformFeeRate)

	cfg.PayPal.Env = strings.ToLower(strings.TrimSpace(cfg.PayPal.Env))
	switch cfg.PayPal.Env {
	case PayPalEnvSandbox, PayPalEnvLive:
	default:
		return Config{}, fmt.Errorf("invalid PAYPAL_ENV %q: must be %s or %s", cfg.PayPal.Env, PayPalEnvSandbox, PayPalEnvLive)
	}
	cfg.PayPal.FallbackCurrency = strings.ToUpper(strings.TrimSpace(cfg.PayPal.FallbackCurrency))
	for i, code := range cfg.PayPal.SupportedCurrencies {
		cfg.PayPal.SupportedCurrencies[i] = strings.ToUpper(strings.TrimSpace(code))
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// FeeRate returns the clamped platform fee rate as a decimal.
func (c Config) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(clampFeeRate(c.PlatformFeeRate))
}

func clampFeeRate(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > maxPlatformFeeRate:
		return maxPlatformFeeRate
	default:
		return rate
	}
}
