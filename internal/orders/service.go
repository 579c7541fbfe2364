// Package orders settles marketplace purchases from the buyer's wallet to
// the owner of the selling business.
package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/notification"
)

const flowOrder = "order"

var (
	ErrNoItems          = apperr.New(apperr.InvalidArgument, "order must contain at least one item")
	ErrInvalidItem      = apperr.New(apperr.InvalidArgument, "order items need a product and a positive quantity")
	ErrInvalidTotal     = apperr.New(apperr.InvalidArgument, "total must be positive")
	ErrTotalMismatch    = apperr.New(apperr.InvalidArgument, "total does not match the order items")
	ErrOwnBusiness      = apperr.New(apperr.InvalidArgument, "cannot buy from your own business")
	ErrBusinessNoOwner  = apperr.New(apperr.FailedPrecondition, "business has no owner")
	errBusinessRequired = apperr.New(apperr.InvalidArgument, "businessId is required")
	errCallerRequired   = apperr.New(apperr.Unauthenticated, "caller identity required")
)

// Service settles marketplace orders.
type Service struct {
	engine   *ledger.Engine
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	newID    func() string
}

// NewService constructs an order settlement service.
func NewService(engine *ledger.Engine, notifier notification.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		engine:   engine,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Item is one order line priced in major units of the base currency.
// A zero price means the line carries no price of its own.
type Item struct {
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

// SettleInput describes a purchase.
type SettleInput struct {
	BuyerID    string
	BusinessID string
	Items      []Item
	Address    string
	Total      decimal.Decimal
}

// Settle moves the order total from buyer to business owner and records the
// order as paid, all in one transaction.
func (s *Service) Settle(ctx context.Context, in SettleInput) (ledger.Order, error) {
	buyer := strings.TrimSpace(in.BuyerID)
	businessID := strings.TrimSpace(in.BusinessID)
	if buyer == "" {
		return ledger.Order{}, errCallerRequired
	}
	if businessID == "" {
		return ledger.Order{}, errBusinessRequired
	}

	base := s.engine.BaseCurrency()
	items, total, err := s.price(in.Items, in.Total, base)
	if err != nil {
		return ledger.Order{}, err
	}

	orderID := s.newID()
	var order ledger.Order
	err = s.engine.Atomically(ctx, func(ctx context.Context, b *ledger.Batch) error {
		business, err := b.Business(ctx, businessID)
		if err != nil {
			return err
		}
		if business.OwnerID == "" {
			return ErrBusinessNoOwner
		}
		if business.OwnerID == buyer {
			return ErrOwnBusiness
		}

		if _, err := b.Transfer(ctx, buyer, business.OwnerID, total, base,
			ledger.EntryMeta{Kind: ledger.KindOrderPayment, ReferenceID: orderID, Note: business.Name},
			ledger.EntryMeta{Kind: ledger.KindOrderPayment, ReferenceID: orderID, Note: business.Name},
		); err != nil {
			return err
		}

		order, err = b.CreateOrder(ctx, ledger.Order{
			ID:         orderID,
			BuyerID:    buyer,
			BusinessID: business.ID,
			OwnerID:    business.OwnerID,
			Items:      items,
			Address:    strings.TrimSpace(in.Address),
			Total:      total,
			Currency:   base,
			Status:     ledger.OrderStatusPaid,
		})
		return err
	})
	if err != nil {
		s.metrics.Settlement(flowOrder, metrics.OutcomeFailure)
		return ledger.Order{}, err
	}
	s.metrics.Settlement(flowOrder, metrics.OutcomeSuccess)
	s.logger.Info().
		Str("order_id", order.ID).
		Str("business_id", order.BusinessID).
		Int64("total", order.Total).
		Msg("order settled")

	amount := money.Format(money.FromMinor(order.Total, base), base)
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindSettlementCompleted,
		Destination: order.OwnerID,
		Title:       "New paid order",
		Body:        fmt.Sprintf("You received %s %s for order %s", amount, base, order.ID),
		Data:        map[string]string{"flow": flowOrder, "orderId": order.ID, "businessId": order.BusinessID},
	})
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindStatusChanged,
		Destination: order.BuyerID,
		Title:       "Order paid",
		Body:        fmt.Sprintf("Your order %s is paid", order.ID),
		Data:        map[string]string{"orderId": order.ID, "status": order.Status},
	})
	return order, nil
}

// price converts items and total to minor units and checks they agree.
func (s *Service) price(in []Item, total decimal.Decimal, base string) ([]ledger.OrderItem, int64, error) {
	if len(in) == 0 {
		return nil, 0, ErrNoItems
	}
	minorTotal := money.ToMinor(total, base)
	if !total.IsPositive() || minorTotal <= 0 {
		return nil, 0, ErrInvalidTotal
	}

	items := make([]ledger.OrderItem, 0, len(in))
	var sum int64
	priced := false
	for _, it := range in {
		if strings.TrimSpace(it.ProductID) == "" || it.Quantity <= 0 || it.Price.IsNegative() {
			return nil, 0, ErrInvalidItem
		}
		price := money.ToMinor(it.Price, base)
		if price > 0 {
			priced = true
		}
		sum += price * int64(it.Quantity)
		items = append(items, ledger.OrderItem{
			ProductID: strings.TrimSpace(it.ProductID),
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     price,
		})
	}
	if priced && sum != minorTotal {
		return nil, 0, ErrTotalMismatch
	}
	return items, minorTotal, nil
}
