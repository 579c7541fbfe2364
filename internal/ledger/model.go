package ledger

import "time"

// EntryKind classifies a ledger movement.
type EntryKind string

const (
	KindTopUp        EntryKind = "TOP_UP"
	KindTransferOut  EntryKind = "TRANSFER_OUT"
	KindTransferIn   EntryKind = "TRANSFER_IN"
	KindRidePayment  EntryKind = "RIDE_PAYMENT"
	KindRideEarn     EntryKind = "RIDE_EARN"
	KindOrderPayment EntryKind = "ORDER_PAYMENT"
)

// Direction is the sign of an entry relative to its owner's balance.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

const EntryStatusSuccess = "SUCCESS"

// Wallet holds a principal's balance in minor units of the base currency.
type Wallet struct {
	OwnerID   string
	Balance   int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is an immutable record of one balance movement.
type Entry struct {
	ID             string
	OwnerID        string
	Kind           EntryKind
	Direction      Direction
	Amount         int64
	Currency       string
	BalanceAfter   int64
	CounterpartyID string
	GatewayOrderID string
	CaptureID      string
	ReferenceID    string
	Note           string
	Status         string
	CreatedAt      time.Time
}

// Signed returns the entry amount with the sign of its direction.
func (e Entry) Signed() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

// EntryMeta carries the descriptive fields of an entry about to be written.
type EntryMeta struct {
	Kind           EntryKind
	CounterpartyID string
	GatewayOrderID string
	CaptureID      string
	ReferenceID    string
	Note           string
}

// Page is one slice of an owner's entries, newest first.
type Page struct {
	Entries    []Entry
	NextCursor string
}

// TransferResult captures both sides of a transfer.
type TransferResult struct {
	Out         Entry
	In          Entry
	FromBalance int64
	ToBalance   int64
}
