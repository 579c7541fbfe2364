// Package funding tops wallets up through the payment gateway, for
// authenticated callers and for guests paying on someone's behalf.
package funding

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/notification"
	"github.com/congo-pay/settlement/internal/paypal"
)

const (
	FlowTopUp      = "topup"
	FlowGuestTopUp = "guest_topup"
	FlowWebhook    = "webhook"

	StatusSuccess = "SUCCESS"

	defaultSettleAttempts = 5
	defaultSettleBackoff  = 200 * time.Millisecond
)

var (
	ErrCaptureInProgress   = apperr.New(apperr.FailedPrecondition, "capture already in progress")
	ErrCaptureNotCompleted = apperr.New(apperr.Internal, "capture was not completed")
	ErrOrderNotPayable     = apperr.New(apperr.FailedPrecondition, "order can no longer be captured")
	ErrOrderWithoutOwner   = apperr.New(apperr.FailedPrecondition, "order has no recipient")
	ErrNotOrderOwner       = apperr.New(apperr.PermissionDenied, "order belongs to another caller")
	ErrWebhookUnverified   = apperr.New(apperr.InvalidArgument, "webhook signature verification failed")

	errAmountRequired    = apperr.New(apperr.InvalidArgument, "amount must be positive")
	errRecipientRequired = apperr.New(apperr.InvalidArgument, "recipientUid is required")
	errOrderIDRequired   = apperr.New(apperr.InvalidArgument, "orderId is required")
	errCallerRequired    = apperr.New(apperr.Unauthenticated, "caller identity required")
)

// Service coordinates gateway orders, captures and the resulting ledger credits.
type Service struct {
	engine   *ledger.Engine
	gateway  Gateway
	fx       Converter
	notifier notification.Notifier
	captures Locker
	events   Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	attempts uint64
	backoff  time.Duration
}

// Option customises a Service.
type Option func(*Service)

func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithCaptureLock serializes captures of the same order.
func WithCaptureLock(l Locker) Option {
	return func(s *Service) { s.captures = l }
}

// WithEventGuard drops webhook events that were already handled.
func WithEventGuard(l Locker) Option {
	return func(s *Service) { s.events = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSettleRetry bounds the retries of a ledger credit that follows a
// completed capture.
func WithSettleRetry(attempts uint64, backoff time.Duration) Option {
	return func(s *Service) {
		s.attempts = attempts
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// NewService wires the top-up flows.
func NewService(engine *ledger.Engine, gateway Gateway, fx Converter, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, errors.New("ledger engine is required")
	}
	if gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if fx == nil {
		return nil, errors.New("currency converter is required")
	}
	s := &Service{
		engine:   engine,
		gateway:  gateway,
		fx:       fx,
		logger:   zerolog.Nop(),
		attempts: defaultSettleAttempts,
		backoff:  defaultSettleBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TopUpInput describes the order a payer is about to approve.
type TopUpInput struct {
	Amount      decimal.Decimal
	Currency    string
	Intent      string
	Description string
	ReturnURL   string
	CancelURL   string
}

// TopUpOrder is the gateway order created for a top-up.
type TopUpOrder struct {
	OrderID          string
	Status           string
	ApproveLinks     []paypal.Link
	OrderCurrency    string
	OrderAmount      decimal.Decimal
	OriginalCurrency string
	OriginalAmount   decimal.Decimal
	RecipientID      string
}

// CaptureResult reports the wallet credit that followed a capture.
type CaptureResult struct {
	Status    string
	OrderID   string
	CaptureID string
	OwnerID   string
	EntryID   string
	Credited  decimal.Decimal
	Currency  string
	Replayed  bool
}

// CreateTopUp opens an order that will credit the caller once captured.
func (s *Service) CreateTopUp(ctx context.Context, callerID string, in TopUpInput) (TopUpOrder, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return TopUpOrder{}, errCallerRequired
	}
	return s.createOrder(ctx, callerID, in)
}

// CreateGuestTopUp opens an order that will credit recipientID once captured.
func (s *Service) CreateGuestTopUp(ctx context.Context, recipientID string, in TopUpInput) (TopUpOrder, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return TopUpOrder{}, errRecipientRequired
	}
	return s.createOrder(ctx, recipientID, in)
}

func (s *Service) createOrder(ctx context.Context, correlationID string, in TopUpInput) (TopUpOrder, error) {
	if !in.Amount.IsPositive() {
		return TopUpOrder{}, errAmountRequired
	}
	code := money.Code(in.Currency)
	if code == "" {
		code = s.engine.BaseCurrency()
	}

	order, err := s.gateway.CreateOrder(ctx, paypal.CreateOrderInput{
		Amount:        in.Amount,
		Currency:      code,
		Intent:        in.Intent,
		Description:   in.Description,
		ReturnURL:     in.ReturnURL,
		CancelURL:     in.CancelURL,
		CorrelationID: correlationID,
	})
	if err != nil {
		return TopUpOrder{}, err
	}

	return TopUpOrder{
		OrderID:          order.ID,
		Status:           order.Status,
		ApproveLinks:     order.ApproveLinks,
		OrderCurrency:    order.Currency,
		OrderAmount:      order.Amount,
		OriginalCurrency: order.OriginalCurrency,
		OriginalAmount:   order.OriginalAmount,
		RecipientID:      correlationID,
	}, nil
}

// CaptureTopUp captures an order the caller created and credits the caller.
func (s *Service) CaptureTopUp(ctx context.Context, callerID, orderID string) (CaptureResult, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return CaptureResult{}, errCallerRequired
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CaptureResult{}, errOrderIDRequired
	}

	order, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return CaptureResult{}, err
	}
	if order.CorrelationID != callerID {
		return CaptureResult{}, ErrNotOrderOwner
	}
	return s.capture(ctx, FlowTopUp, order)
}

// CaptureGuestTopUp captures a guest order. The credited wallet is the
// recipient recorded on the order by the gateway, never caller input.
func (s *Service) CaptureGuestTopUp(ctx context.Context, orderID string) (CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CaptureResult{}, errOrderIDRequired
	}

	order, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return CaptureResult{}, err
	}
	if order.CorrelationID == "" {
		return CaptureResult{}, ErrOrderWithoutOwner
	}
	return s.capture(ctx, FlowGuestTopUp, order)
}

func (s *Service) capture(ctx context.Context, flow string, order paypal.Order) (CaptureResult, error) {
	switch order.State() {
	case paypal.StateFailed:
		return CaptureResult{}, ErrOrderNotPayable
	case paypal.StateCaptured:
		if order.Capture != nil && order.Capture.Completed() {
			return s.settle(ctx, flow, order.CorrelationID, s.withOrder(*order.Capture, order))
		}
	}

	if s.captures != nil {
		acquired, err := s.captures.Acquire(ctx, order.ID)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("order_id", order.ID).Msg("capture lock unavailable")
		case !acquired:
			return CaptureResult{}, ErrCaptureInProgress
		default:
			defer func() {
				if err := s.captures.Release(context.WithoutCancel(ctx), order.ID); err != nil {
					s.logger.Warn().Err(err).Str("order_id", order.ID).Msg("release capture lock")
				}
			}()
		}
	}

	capture, err := s.gateway.CaptureOrder(ctx, order.ID)
	if paypal.IsAlreadyCaptured(err) {
		capture, err = s.capturedState(ctx, order.ID)
	}
	if err != nil {
		s.metrics.Settlement(flow, metrics.OutcomeFailure)
		return CaptureResult{}, err
	}
	if !capture.Completed() {
		s.metrics.Settlement(flow, metrics.OutcomeFailure)
		s.logger.Warn().Str("order_id", order.ID).Str("status", capture.Status).Msg("capture not completed")
		return CaptureResult{}, ErrCaptureNotCompleted
	}

	return s.settle(ctx, flow, order.CorrelationID, s.withOrder(capture, order))
}

// capturedState resolves a capture the gateway reports as already done.
func (s *Service) capturedState(ctx context.Context, orderID string) (paypal.Capture, error) {
	order, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return paypal.Capture{}, err
	}
	if order.Capture == nil {
		return paypal.Capture{}, ErrCaptureNotCompleted
	}
	return s.withOrder(*order.Capture, order), nil
}

func (s *Service) withOrder(capture paypal.Capture, order paypal.Order) paypal.Capture {
	if capture.OrderID == "" {
		capture.OrderID = order.ID
	}
	if capture.CorrelationID == "" {
		capture.CorrelationID = order.CorrelationID
	}
	return capture
}
