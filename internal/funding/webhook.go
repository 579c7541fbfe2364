package funding

import (
	"context"
	"errors"

	"github.com/congo-pay/settlement/internal/paypal"
)

// WebhookResult reports what a verified webhook delivery caused.
type WebhookResult struct {
	EventID   string
	EventType string
	Handled   bool
	Duplicate bool
	Capture   *CaptureResult
}

// HandleWebhook verifies a gateway event and credits completed captures.
// Crediting goes through the capture id, so a delivery that races the
// caller's own capture request credits the wallet once.
func (s *Service) HandleWebhook(ctx context.Context, headers paypal.WebhookHeaders, body []byte) (WebhookResult, error) {
	ok, err := s.gateway.VerifyWebhookSignature(ctx, headers, body)
	if err != nil {
		return WebhookResult{}, err
	}
	if !ok {
		return WebhookResult{}, ErrWebhookUnverified
	}

	evt, err := paypal.ParseEvent(body)
	if err != nil {
		return WebhookResult{}, err
	}
	res := WebhookResult{EventID: evt.ID, EventType: evt.EventType}
	if evt.EventType != paypal.EventCaptureCompleted || evt.Capture == nil || !evt.Capture.Completed() {
		s.logger.Debug().Str("event_id", evt.ID).Str("event_type", evt.EventType).Msg("webhook ignored")
		return res, nil
	}

	if s.events != nil && evt.ID != "" {
		acquired, err := s.events.Acquire(ctx, evt.ID)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("event_id", evt.ID).Msg("webhook dedupe unavailable")
		case !acquired:
			res.Duplicate = true
			return res, nil
		}
	}

	settled, err := s.reconcile(ctx, *evt.Capture)
	if errors.Is(err, ErrOrderWithoutOwner) {
		return res, nil
	}
	if err != nil {
		if s.events != nil && evt.ID != "" {
			if rerr := s.events.Release(context.WithoutCancel(ctx), evt.ID); rerr != nil {
				s.logger.Warn().Err(rerr).Str("event_id", evt.ID).Msg("release webhook marker")
			}
		}
		return WebhookResult{}, err
	}
	res.Handled = true
	res.Capture = &settled
	return res, nil
}

func (s *Service) reconcile(ctx context.Context, capture paypal.Capture) (CaptureResult, error) {
	if capture.CorrelationID == "" {
		if capture.OrderID == "" {
			s.logger.Error().Bool("alert", true).Str("capture_id", capture.CaptureID).Msg("captured funds without an order reference")
			return CaptureResult{}, ErrOrderWithoutOwner
		}
		order, err := s.gateway.GetOrder(ctx, capture.OrderID)
		if err != nil {
			return CaptureResult{}, err
		}
		capture = s.withOrder(capture, order)
	}
	if capture.CorrelationID == "" {
		s.logger.Error().Bool("alert", true).
			Str("order_id", capture.OrderID).
			Str("capture_id", capture.CaptureID).
			Msg("captured funds without a recipient")
		return CaptureResult{}, ErrOrderWithoutOwner
	}
	return s.settle(ctx, FlowWebhook, capture.CorrelationID, capture)
}
