// Package payments moves funds between two wallets on the sender's request.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/metrics"
	"github.com/congo-pay/settlement/internal/money"
	"github.com/congo-pay/settlement/internal/notification"
)

const (
	flowTransfer  = "transfer"
	StatusSuccess = "SUCCESS"
	maxNoteLength = 140
)

var (
	ErrInvalidAmount     = apperr.New(apperr.InvalidArgument, "amount must be positive")
	ErrSelfTransfer      = apperr.New(apperr.InvalidArgument, "cannot transfer to yourself")
	ErrRecipientRequired = apperr.New(apperr.InvalidArgument, "recipient is required")
	ErrNoteTooLong       = apperr.New(apperr.InvalidArgument, "note is too long")

	errCallerRequired = apperr.New(apperr.Unauthenticated, "caller identity required")
)

// Service wires wallet ledger postings for P2P transfers.
type Service struct {
	engine   *ledger.Engine
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewService constructs a payment service.
func NewService(engine *ledger.Engine, notifier notification.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{engine: engine, notifier: notifier, metrics: m, logger: logger}
}

// TransferInput captures the data needed to move funds between wallets.
// Amount is expressed in major units of the base currency.
type TransferInput struct {
	SenderID    string
	RecipientID string
	Amount      decimal.Decimal
	Note        string
}

// TransferResult describes the ledger outcome of a P2P transfer.
type TransferResult struct {
	Status        string
	TransferID    string
	Amount        decimal.Decimal
	Currency      string
	SenderBalance decimal.Decimal
	CompletedAt   time.Time
}

// Transfer debits the sender and credits the recipient in one transaction.
// Funds are checked inside that transaction, never ahead of it.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	sender := strings.TrimSpace(input.SenderID)
	recipient := strings.TrimSpace(input.RecipientID)
	note := strings.TrimSpace(input.Note)
	switch {
	case sender == "":
		return TransferResult{}, errCallerRequired
	case recipient == "":
		return TransferResult{}, ErrRecipientRequired
	case recipient == sender:
		return TransferResult{}, ErrSelfTransfer
	case len(note) > maxNoteLength:
		return TransferResult{}, ErrNoteTooLong
	}

	base := s.engine.BaseCurrency()
	amount := money.ToMinor(input.Amount, base)
	if !input.Amount.IsPositive() || amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}

	ref := uuid.NewString()
	res, err := s.engine.Transfer(ctx, sender, recipient, amount, base,
		ledger.EntryMeta{Kind: ledger.KindTransferOut, ReferenceID: ref, Note: note},
		ledger.EntryMeta{Kind: ledger.KindTransferIn, ReferenceID: ref, Note: note},
	)
	if err != nil {
		s.metrics.Settlement(flowTransfer, metrics.OutcomeFailure)
		if !errors.Is(err, ledger.ErrInsufficientFunds) {
			s.logger.Error().Err(err).Str("sender_id", sender).Str("recipient_id", recipient).Msg("transfer failed")
		}
		return TransferResult{}, err
	}
	s.metrics.Settlement(flowTransfer, metrics.OutcomeSuccess)

	credited := money.FromMinor(amount, base)
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindSettlementCompleted,
		Destination: recipient,
		Title:       "Money received",
		Body:        fmt.Sprintf("You received %s %s", money.Format(credited, base), base),
		Data: map[string]string{
			"flow":       flowTransfer,
			"transferId": ref,
			"senderId":   sender,
			"entryId":    res.In.ID,
		},
	})

	return TransferResult{
		Status:        StatusSuccess,
		TransferID:    ref,
		Amount:        credited,
		Currency:      base,
		SenderBalance: money.FromMinor(res.FromBalance, base),
		CompletedAt:   res.Out.CreatedAt,
	}, nil
}
