package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sethvargo/go-retry"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/notification"
	"github.com/congo-pay/settlement/internal/paypal"
)

var errDegradedConversion = errors.New("conversion to base currency is degraded")

// ErrCaptureWithoutID is returned when the gateway reports funds captured
// but gives no capture id to key the credit on.
var ErrCaptureWithoutID = apperr.New(apperr.Internal, "payment captured without a capture id, wallet credit pending reconciliation")

// settle credits a completed capture to ownerID. The gateway already holds
// the payer's funds, so the credit runs detached from the caller's context
// and is retried until it commits or the attempts run out.
func (s *Service) settle(ctx context.Context, flow, ownerID string, capture paypal.Capture) (CaptureResult, error) {
	ctx = context.WithoutCancel(ctx)
	if ownerID == "" {
		ownerID = capture.CorrelationID
	}
	base := s.engine.BaseCurrency()

	if strings.TrimSpace(capture.CaptureID) == "" {
		s.metrics.Settlement(flow, metrics.OutcomeFailure)
		s.metrics.UnreconciledCapture()
		s.logger.Error().
			Bool("alert", true).
			Str("flow", flow).
			Str("owner_id", ownerID).
			Str("order_id", capture.OrderID).
			Str("gross", capture.GrossAmount.String()).
			Str("currency", capture.GrossCurrency).
			Msg("capture completed without a capture id, refusing unkeyed credit")
		return CaptureResult{}, ErrCaptureWithoutID
	}

	var (
		entry    ledger.Entry
		replayed bool
	)
	backoff := retry.WithMaxRetries(s.attempts, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conv, err := s.fx.Convert(ctx, capture.GrossAmount, capture.GrossCurrency, base)
		if err != nil {
			return retry.RetryableError(err)
		}
		if conv.Degraded && money.Code(capture.GrossCurrency) != base {
			return retry.RetryableError(errDegradedConversion)
		}

		amount := money.ToMinor(conv.Amount, base)
		credited, err := s.engine.Credit(ctx, ownerID, amount, base, ledger.EntryMeta{
			Kind:           ledger.KindTopUp,
			GatewayOrderID: capture.OrderID,
			CaptureID:      capture.CaptureID,
			Note:           fmt.Sprintf("%s %s", capture.GrossAmount.String(), money.Code(capture.GrossCurrency)),
		})
		switch {
		case errors.Is(err, ledger.ErrDuplicateTransaction):
			entry, replayed = credited, true
			return nil
		case err == nil:
			entry = credited
			return nil
		case apperr.KindOf(err) == apperr.Internal:
			s.logger.Warn().Err(err).
				Str("capture_id", capture.CaptureID).
				Msg("retrying wallet credit after capture")
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err != nil {
		s.metrics.Settlement(flow, metrics.OutcomeFailure)
		s.metrics.UnreconciledCapture()
		s.logger.Error().Err(err).
			Bool("alert", true).
			Str("flow", flow).
			Str("owner_id", ownerID).
			Str("order_id", capture.OrderID).
			Str("capture_id", capture.CaptureID).
			Str("gross", capture.GrossAmount.String()).
			Str("currency", capture.GrossCurrency).
			Msg("capture completed but wallet credit did not commit")
		return CaptureResult{}, apperr.Wrap(apperr.Internal, err, "payment captured, wallet credit pending reconciliation")
	}

	result := CaptureResult{
		Status:    StatusSuccess,
		OrderID:   capture.OrderID,
		CaptureID: capture.CaptureID,
		OwnerID:   entry.OwnerID,
		EntryID:   entry.ID,
		Credited:  money.FromMinor(entry.Amount, base),
		Currency:  base,
		Replayed:  replayed,
	}
	if replayed {
		s.metrics.Settlement(flow, metrics.OutcomeReplayed)
		return result, nil
	}

	s.metrics.Settlement(flow, metrics.OutcomeSuccess)
	s.logger.Info().
		Str("flow", flow).
		Str("owner_id", entry.OwnerID).
		Str("capture_id", capture.CaptureID).
		Int64("amount", entry.Amount).
		Msg("top-up settled")
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindSettlementCompleted,
		Destination: entry.OwnerID,
		Title:       "Wallet topped up",
		Body:        fmt.Sprintf("%s %s added to your wallet", money.Format(result.Credited, base), base),
		Data: map[string]string{
			"flow":      flow,
			"orderId":   capture.OrderID,
			"captureId": capture.CaptureID,
			"entryId":   entry.ID,
		},
	})
	return result, nil
}
