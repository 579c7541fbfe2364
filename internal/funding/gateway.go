package funding

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/currency"
	"github.com/congo-pay/settlement/internal/paypal"
)

// Gateway is the subset of the payment gateway client used by top-ups.
type Gateway interface {
	CreateOrder(ctx context.Context, in paypal.CreateOrderInput) (paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (paypal.Capture, error)
	VerifyWebhookSignature(ctx context.Context, headers paypal.WebhookHeaders, body []byte) (bool, error)
}

// Converter expresses captured amounts in the ledger's base currency.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (currency.Conversion, error)
}

// Locker places short-lived markers keyed by id.
type Locker interface {
	Acquire(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}
