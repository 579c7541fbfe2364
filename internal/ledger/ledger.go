// Package ledger owns wallet balances and the entries that explain them.
// Every balance change happens through the Engine, inside one store
// transaction together with the entries it produces.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/money"
)

var (
	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested debit.
	ErrInsufficientFunds = apperr.New(apperr.FailedPrecondition, "insufficient funds")

	// ErrDuplicateTransaction indicates the capture id was already credited and
	// therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = apperr.New(apperr.FailedPrecondition, "duplicate transaction")

	ErrAmountNotPositive = apperr.New(apperr.FailedPrecondition, "amount must be positive")
	ErrInvalidAmount     = apperr.New(apperr.InvalidArgument, "amount must be positive")
	ErrSameWallet        = apperr.New(apperr.InvalidArgument, "cannot transfer to the same wallet")
	ErrMissingOwner      = apperr.New(apperr.InvalidArgument, "wallet owner is required")
	ErrCurrencyMismatch  = apperr.New(apperr.InvalidArgument, "amount must be in the base currency")
	ErrInvalidCursor     = apperr.New(apperr.InvalidArgument, "unknown cursor")

	ErrWalletNotFound   = apperr.New(apperr.NotFound, "wallet not found")
	ErrEntryNotFound    = apperr.New(apperr.NotFound, "entry not found")
	ErrRideNotFound     = apperr.New(apperr.NotFound, "ride not found")
	ErrBusinessNotFound = apperr.New(apperr.NotFound, "business not found")

	// ErrConflict is returned when the store gave up retrying a transaction
	// that kept conflicting with concurrent writers.
	ErrConflict = apperr.New(apperr.Internal, "ledger transaction conflict")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// Engine applies credits, debits and transfers atomically against a Store.
type Engine struct {
	store Store
	base  string
	now   func() time.Time
	newID func() string
}

// NewEngine constructs an engine operating in baseCurrency.
func NewEngine(store Store, baseCurrency string) *Engine {
	return &Engine{
		store: store,
		base:  money.Code(baseCurrency),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// BaseCurrency returns the currency every wallet is denominated in.
func (e *Engine) BaseCurrency() string {
	return e.base
}

// Atomically runs fn inside a single store transaction. Either all of the
// batch's writes commit or none do. fn must be safe to re-run.
func (e *Engine) Atomically(ctx context.Context, fn func(ctx context.Context, b *Batch) error) error {
	return e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &Batch{engine: e, tx: tx})
	})
}

// Wallet returns the owner's wallet, creating a zero-balance one if missing.
func (e *Engine) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	var w Wallet
	err := e.Atomically(ctx, func(ctx context.Context, b *Batch) error {
		var err error
		w, err = b.Wallet(ctx, ownerID)
		return err
	})
	return w, err
}

// Credit adds amount to the owner's wallet and records one entry.
func (e *Engine) Credit(ctx context.Context, ownerID string, amount int64, currency string, meta EntryMeta) (Entry, error) {
	var entry Entry
	err := e.Atomically(ctx, func(ctx context.Context, b *Batch) error {
		var err error
		entry, err = b.Credit(ctx, ownerID, amount, currency, meta)
		return err
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		return entry, err
	}
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Debit removes amount from the owner's wallet and records one entry.
func (e *Engine) Debit(ctx context.Context, ownerID string, amount int64, currency string, meta EntryMeta) (Entry, error) {
	var entry Entry
	err := e.Atomically(ctx, func(ctx context.Context, b *Batch) error {
		var err error
		entry, err = b.Debit(ctx, ownerID, amount, currency, meta)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Transfer moves amount between two wallets, recording an entry on each side.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount int64, currency string, out, in EntryMeta) (TransferResult, error) {
	var res TransferResult
	err := e.Atomically(ctx, func(ctx context.Context, b *Batch) error {
		var err error
		res, err = b.Transfer(ctx, fromID, toID, amount, currency, out, in)
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	return res, nil
}

// Entries lists the owner's entries newest first. A non-empty NextCursor
// means more entries exist after the returned page.
func (e *Engine) Entries(ctx context.Context, ownerID, cursor string, limit int) (Page, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Page{}, ErrMissingOwner
	}
	limit = NormalizeLimit(limit)

	entries, err := e.store.ListEntries(ctx, ownerID, strings.TrimSpace(cursor), limit+1)
	if err != nil {
		return Page{}, err
	}

	page := Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = page.Entries[limit-1].ID
	}
	return page, nil
}

// NormalizeLimit clamps a requested page size to [1, MaxPageSize].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Batch exposes the ledger primitives and the resources settlement flows may
// touch, all bound to one open transaction.
type Batch struct {
	engine *Engine
	tx     Tx
}

// Wallet loads the owner's wallet, creating it with a zero balance if needed.
func (b *Batch) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Wallet{}, ErrMissingOwner
	}

	w, err := b.tx.Wallet(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, err
	}

	now := b.engine.now()
	w = Wallet{OwnerID: ownerID, Currency: b.engine.base, CreatedAt: now, UpdatedAt: now}
	if err := b.tx.CreateWallet(ctx, w); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// Credit adds amount to ownerID's balance. When meta carries a capture id
// that was already credited, the existing entry is returned together with
// ErrDuplicateTransaction and nothing is written.
func (b *Batch) Credit(ctx context.Context, ownerID string, amount int64, currency string, meta EntryMeta) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrAmountNotPositive
	}
	if err := b.checkCurrency(currency); err != nil {
		return Entry{}, err
	}

	if meta.CaptureID != "" {
		existing, err := b.tx.EntryByCaptureID(ctx, meta.CaptureID)
		if err == nil {
			return existing, ErrDuplicateTransaction
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return Entry{}, err
		}
	}

	w, err := b.Wallet(ctx, ownerID)
	if err != nil {
		return Entry{}, err
	}
	return b.apply(ctx, w, DirectionCredit, amount, meta)
}

// Debit removes amount from ownerID's balance, failing with
// ErrInsufficientFunds rather than going negative.
func (b *Batch) Debit(ctx context.Context, ownerID string, amount int64, currency string, meta EntryMeta) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrAmountNotPositive
	}
	if err := b.checkCurrency(currency); err != nil {
		return Entry{}, err
	}

	w, err := b.Wallet(ctx, ownerID)
	if err != nil {
		return Entry{}, err
	}
	if w.Balance < amount {
		return Entry{}, ErrInsufficientFunds
	}
	return b.apply(ctx, w, DirectionDebit, amount, meta)
}

// Transfer debits fromID and credits toID by the same amount.
func (b *Batch) Transfer(ctx context.Context, fromID, toID string, amount int64, currency string, out, in EntryMeta) (TransferResult, error) {
	fromID, toID = strings.TrimSpace(fromID), strings.TrimSpace(toID)
	if fromID == "" || toID == "" {
		return TransferResult{}, ErrMissingOwner
	}
	if amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if fromID == toID {
		return TransferResult{}, ErrSameWallet
	}

	if out.CounterpartyID == "" {
		out.CounterpartyID = toID
	}
	if in.CounterpartyID == "" {
		in.CounterpartyID = fromID
	}

	debit, err := b.Debit(ctx, fromID, amount, currency, out)
	if err != nil {
		return TransferResult{}, err
	}
	credit, err := b.Credit(ctx, toID, amount, currency, in)
	if err != nil {
		return TransferResult{}, err
	}

	return TransferResult{
		Out:         debit,
		In:          credit,
		FromBalance: debit.BalanceAfter,
		ToBalance:   credit.BalanceAfter,
	}, nil
}

// Ride reads a ride inside the transaction.
func (b *Batch) Ride(ctx context.Context, rideID string) (Ride, error) {
	return b.tx.Ride(ctx, rideID)
}

// MarkRideSettled writes the ride's settlement marker.
func (b *Batch) MarkRideSettled(ctx context.Context, rideID string, payment RidePayment) error {
	payment.Status = RidePaymentSettled
	if payment.SettledAt.IsZero() {
		payment.SettledAt = b.engine.now()
	}
	return b.tx.UpdateRidePayment(ctx, rideID, payment)
}

// Business resolves a marketplace business inside the transaction.
func (b *Batch) Business(ctx context.Context, businessID string) (Business, error) {
	return b.tx.Business(ctx, businessID)
}

// CreateOrder records a paid marketplace order and returns it with its id.
func (b *Batch) CreateOrder(ctx context.Context, order Order) (Order, error) {
	if order.ID == "" {
		order.ID = b.engine.newID()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = b.engine.now()
	}
	if order.Currency == "" {
		order.Currency = b.engine.base
	}
	if err := b.tx.InsertOrder(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (b *Batch) checkCurrency(currency string) error {
	if currency != "" && money.Code(currency) != b.engine.base {
		return ErrCurrencyMismatch
	}
	return nil
}

func (b *Batch) apply(ctx context.Context, w Wallet, dir Direction, amount int64, meta EntryMeta) (Entry, error) {
	now := b.engine.now()
	balance := w.Balance + amount
	if dir == DirectionDebit {
		balance = w.Balance - amount
	}

	if err := b.tx.UpdateBalance(ctx, w.OwnerID, balance, now); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:             b.engine.newID(),
		OwnerID:        w.OwnerID,
		Kind:           meta.Kind,
		Direction:      dir,
		Amount:         amount,
		Currency:       b.engine.base,
		BalanceAfter:   balance,
		CounterpartyID: meta.CounterpartyID,
		GatewayOrderID: meta.GatewayOrderID,
		CaptureID:      meta.CaptureID,
		ReferenceID:    meta.ReferenceID,
		Note:           meta.Note,
		Status:         EntryStatusSuccess,
		CreatedAt:      now,
	}
	if err := b.tx.InsertEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
