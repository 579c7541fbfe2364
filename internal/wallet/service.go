// Package wallet reads balances and transaction history from the ledger.
package wallet

import (
	"context"
	"strings"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/money"
)

var errOwnerRequired = apperr.New(apperr.Unauthenticated, "caller identity required")

// Service exposes read access to wallets.
type Service struct {
	engine *ledger.Engine
}

// NewService constructs a wallet service backed by the ledger engine.
func NewService(engine *ledger.Engine) *Service {
	return &Service{engine: engine}
}

// Balance returns the owner's balance. A wallet that does not exist yet is
// created with a zero balance and returned.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Balance{}, errOwnerRequired
	}
	w, err := s.engine.Wallet(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		OwnerID:  w.OwnerID,
		Amount:   money.FromMinor(w.Balance, w.Currency),
		Minor:    w.Balance,
		Currency: w.Currency,
		AsOf:     w.UpdatedAt,
	}, nil
}

// Transactions lists the owner's entries newest first. limit outside
// [1, 50] falls back to the default or the maximum page size.
func (s *Service) Transactions(ctx context.Context, ownerID, cursor string, limit int) (TransactionPage, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return TransactionPage{}, errOwnerRequired
	}
	page, err := s.engine.Entries(ctx, ownerID, cursor, limit)
	if err != nil {
		return TransactionPage{}, err
	}

	out := TransactionPage{Items: make([]Transaction, 0, len(page.Entries)), NextCursor: page.NextCursor}
	for _, e := range page.Entries {
		out.Items = append(out.Items, Transaction{
			ID:             e.ID,
			Kind:           string(e.Kind),
			Direction:      string(e.Direction),
			Amount:         money.FromMinor(e.Amount, e.Currency),
			Currency:       e.Currency,
			BalanceAfter:   money.FromMinor(e.BalanceAfter, e.Currency),
			CounterpartyID: e.CounterpartyID,
			ReferenceID:    e.ReferenceID,
			OrderID:        e.GatewayOrderID,
			CaptureID:      e.CaptureID,
			Note:           e.Note,
			Status:         e.Status,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out, nil
}
