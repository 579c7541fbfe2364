package notification

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const (
	// KindSettlementCompleted is emitted after money lands in a wallet.
	KindSettlementCompleted = "settlement.completed"
	// KindStatusChanged is emitted when a ride or marketplace order changes payment status.
	KindStatusChanged = "status.changed"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Title       string
	Body        string
	Data        map[string]string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger zerolog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger zerolog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil {
		return nil
	}
	n.logger.Info().
		Str("kind", message.Kind).
		Str("destination", message.Destination).
		Str("title", message.Title).
		Str("body", message.Body).
		Interface("data", message.Data).
		Msg("notification")
	return nil
}

// Fanout delivers every message to all wrapped notifiers.
type Fanout []Notifier

// Send attempts every notifier and returns the combined failures.
func (f Fanout) Send(ctx context.Context, message Message) error {
	var err error
	for _, n := range f {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, message))
	}
	return err
}

// Dispatch sends message and logs a failure instead of returning it.
// Settlement has already committed when notifications go out.
func Dispatch(ctx context.Context, n Notifier, logger zerolog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil {
		logger.Warn().Err(err).
			Str("kind", message.Kind).
			Str("destination", message.Destination).
			Msg("notification dispatch failed")
	}
}
