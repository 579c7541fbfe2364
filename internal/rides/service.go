// Package rides settles a completed ride fare between rider, driver and
// platform.
package rides

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/notification"
)

const flowRide = "ride"

var (
	ErrNotRider         = apperr.New(apperr.PermissionDenied, "only the rider can settle this ride")
	ErrRideNotCompleted = apperr.New(apperr.FailedPrecondition, "ride is not completed")
	ErrNoDriver         = apperr.New(apperr.FailedPrecondition, "ride has no assigned driver")
	ErrSettledForOther  = apperr.New(apperr.FailedPrecondition, "ride already settled for a different driver")
	ErrInvalidFare      = apperr.New(apperr.FailedPrecondition, "ride fare must be positive")
	errRideIDRequired   = apperr.New(apperr.InvalidArgument, "rideId is required")
	errCallerRequired   = apperr.New(apperr.Unauthenticated, "caller identity required")
)

// Service settles ride fares.
type Service struct {
	engine   *ledger.Engine
	feeRate  decimal.Decimal
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewService constructs a ride settlement service charging feeRate of each fare.
func NewService(engine *ledger.Engine, feeRate decimal.Decimal, notifier notification.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{engine: engine, feeRate: feeRate, notifier: notifier, metrics: m, logger: logger}
}

// Settlement is the outcome of settling one ride.
type Settlement struct {
	RideID         string
	DriverID       string
	Fare           int64
	PlatformFee    int64
	DriverPayout   int64
	Currency       string
	AlreadySettled bool
}

// Split returns the platform fee and driver payout for fare.
func Split(fare int64, rate decimal.Decimal) (fee, payout int64) {
	fee = decimal.NewFromInt(fare).Mul(rate).Round(0).IntPart()
	if fee < 0 {
		fee = 0
	}
	if fee > fare {
		fee = fare
	}
	return fee, fare - fee
}

// Settle debits the rider's fare and credits the driver's payout. The ride's
// payment marker is read and written in the same transaction as the money,
// so a second call returns success without moving funds again.
func (s *Service) Settle(ctx context.Context, callerID, rideID string) (Settlement, error) {
	callerID = strings.TrimSpace(callerID)
	rideID = strings.TrimSpace(rideID)
	if callerID == "" {
		return Settlement{}, errCallerRequired
	}
	if rideID == "" {
		return Settlement{}, errRideIDRequired
	}

	var out Settlement
	err := s.engine.Atomically(ctx, func(ctx context.Context, b *ledger.Batch) error {
		out = Settlement{}
		ride, err := b.Ride(ctx, rideID)
		if err != nil {
			return err
		}
		if ride.RiderID != callerID {
			return ErrNotRider
		}
		if ride.Payment.Settled() {
			if ride.Payment.DriverID != "" && ride.Payment.DriverID != ride.DriverID {
				return ErrSettledForOther
			}
			out = Settlement{
				RideID:         ride.ID,
				DriverID:       ride.Payment.DriverID,
				Fare:           ride.Payment.Fare,
				PlatformFee:    ride.Payment.PlatformFee,
				DriverPayout:   ride.Payment.DriverPayout,
				Currency:       ride.Payment.Currency,
				AlreadySettled: true,
			}
			return nil
		}
		if !strings.EqualFold(ride.Status, ledger.RideStatusCompleted) {
			return ErrRideNotCompleted
		}
		if ride.DriverID == "" {
			return ErrNoDriver
		}
		if ride.Fare <= 0 {
			return ErrInvalidFare
		}

		base := s.engine.BaseCurrency()
		fee, payout := Split(ride.Fare, s.feeRate)
		if _, err := b.Debit(ctx, ride.RiderID, ride.Fare, ride.Currency, ledger.EntryMeta{
			Kind:           ledger.KindRidePayment,
			CounterpartyID: ride.DriverID,
			ReferenceID:    ride.ID,
		}); err != nil {
			return err
		}
		if payout > 0 {
			if _, err := b.Credit(ctx, ride.DriverID, payout, ride.Currency, ledger.EntryMeta{
				Kind:           ledger.KindRideEarn,
				CounterpartyID: ride.RiderID,
				ReferenceID:    ride.ID,
			}); err != nil {
				return err
			}
		}
		out = Settlement{
			RideID:       ride.ID,
			DriverID:     ride.DriverID,
			Fare:         ride.Fare,
			PlatformFee:  fee,
			DriverPayout: payout,
			Currency:     base,
		}
		return b.MarkRideSettled(ctx, ride.ID, ledger.RidePayment{
			DriverID:     ride.DriverID,
			Fare:         ride.Fare,
			PlatformFee:  fee,
			DriverPayout: payout,
			Currency:     base,
		})
	})
	if err != nil {
		s.metrics.Settlement(flowRide, metrics.OutcomeFailure)
		return Settlement{}, err
	}
	if out.AlreadySettled {
		s.metrics.Settlement(flowRide, metrics.OutcomeReplayed)
		return out, nil
	}

	s.metrics.Settlement(flowRide, metrics.OutcomeSuccess)
	s.logger.Info().
		Str("ride_id", out.RideID).
		Str("driver_id", out.DriverID).
		Int64("fare", out.Fare).
		Int64("platform_fee", out.PlatformFee).
		Msg("ride settled")

	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindStatusChanged,
		Destination: callerID,
		Title:       "Ride paid",
		Body:        fmt.Sprintf("Your ride was paid: %s %s", money.Format(money.FromMinor(out.Fare, out.Currency), out.Currency), out.Currency),
		Data:        map[string]string{"rideId": out.RideID, "paymentStatus": ledger.RidePaymentSettled},
	})
	if out.DriverPayout > 0 {
		notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
			Kind:        notification.KindSettlementCompleted,
			Destination: out.DriverID,
			Title:       "Ride earnings",
			Body:        fmt.Sprintf("You earned %s %s", money.Format(money.FromMinor(out.DriverPayout, out.Currency), out.Currency), out.Currency),
			Data:        map[string]string{"flow": flowRide, "rideId": out.RideID},
		})
	}
	return out, nil
}
