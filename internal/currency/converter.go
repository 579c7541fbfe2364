// Package currency converts amounts between currencies through an ordered
// chain of rate providers.
package currency

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/config"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/money"
)

// ErrUnavailable is returned in fail-closed mode when no provider answered.
var ErrUnavailable = apperr.New(apperr.Internal, "currency conversion unavailable")

// Conversion is the outcome of converting an amount. Degraded marks a result
// that carries the original amount because every provider failed.
type Conversion struct {
	Amount   decimal.Decimal
	From     string
	To       string
	Rate     decimal.Decimal
	Provider string
	Degraded bool
}

// Converter tries each provider in order and stops at the first rate.
type Converter struct {
	providers  []Provider
	failClosed bool
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// Option customises a Converter.
type Option func(*Converter)

// WithLogger sets the logger used for provider failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

// WithMetrics records answering providers and degraded conversions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Converter) { c.metrics = m }
}

// WithFailClosed makes Convert return ErrUnavailable instead of the
// unconverted amount when the whole chain fails.
func WithFailClosed(v bool) Option {
	return func(c *Converter) { c.failClosed = v }
}

// NewConverter builds a converter over providers, tried in order.
func NewConverter(providers []Provider, opts ...Option) *Converter {
	c := &Converter{providers: providers, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultProviders builds the keyed primary and the two free fallbacks.
func DefaultProviders(cfg config.FXConfig) []Provider {
	return []Provider{
		NewPairProvider(cfg.PrimaryURL, cfg.APIKey, cfg.Timeout),
		NewLatestRatesProvider(cfg.SecondaryURL, cfg.Timeout),
		NewQueryRatesProvider(cfg.TertiaryURL, cfg.Timeout),
	}
}

// Convert expresses amount in currency to. Converting a currency to itself
// returns the amount untouched without contacting any provider.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	from, to = money.Code(from), money.Code(to)
	if from == to {
		return Conversion{Amount: amount, From: from, To: to, Rate: decimal.NewFromInt(1), Provider: "identity"}, nil
	}

	var errs error
	for _, p := range c.providers {
		rate, err := p.Rate(ctx, from, to)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			event := c.logger.Warn()
			if errors.Is(err, errMissingAPIKey) {
				event = c.logger.Debug()
			}
			event.Err(err).Str("provider", p.Name()).Str("from", from).Str("to", to).Msg("fx provider failed")
			continue
		}
		c.metrics.Conversion(p.Name())
		return Conversion{
			Amount:   amount.Mul(rate),
			From:     from,
			To:       to,
			Rate:     rate,
			Provider: p.Name(),
		}, nil
	}

	c.metrics.ConversionDegraded(from, to)
	if c.failClosed {
		return Conversion{}, fmt.Errorf("%w: %v", ErrUnavailable, errs)
	}

	c.logger.Warn().Err(errs).
		Bool("alert", true).
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Msg("all fx providers failed, using unconverted amount")
	return Conversion{Amount: amount, From: from, To: to, Rate: decimal.NewFromInt(1), Provider: "none", Degraded: true}, nil
}
