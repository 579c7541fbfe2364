package ledger

import (
	"context"
	"time"
)

// Tx is the view of the store inside one atomic transaction. Reads observe
// the transaction's own writes; nothing is visible to others until commit.
type Tx interface {
	Wallet(ctx context.Context, ownerID string) (Wallet, error)
	CreateWallet(ctx context.Context, w Wallet) error
	UpdateBalance(ctx context.Context, ownerID string, balance int64, at time.Time) error
	InsertEntry(ctx context.Context, e Entry) error
	EntryByCaptureID(ctx context.Context, captureID string) (Entry, error)

	Ride(ctx context.Context, rideID string) (Ride, error)
	UpdateRidePayment(ctx context.Context, rideID string, payment RidePayment) error
	Business(ctx context.Context, businessID string) (Business, error)
	InsertOrder(ctx context.Context, order Order) error
}

// Store is the transactional ledger store. RunInTx commits fn's writes only
// if fn returns nil; fn may be invoked more than once when the backend
// retries a conflicting transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListEntries(ctx context.Context, ownerID, cursor string, limit int) ([]Entry, error)
}
