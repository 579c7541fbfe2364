package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance encapsulates available funds for a wallet.
type Balance struct {
	OwnerID  string
	Amount   decimal.Decimal
	Minor    int64
	Currency string
	AsOf     time.Time
}

// Transaction is a ledger entry as shown to its owner.
type Transaction struct {
	ID             string
	Kind           string
	Direction      string
	Amount         decimal.Decimal
	Currency       string
	BalanceAfter   decimal.Decimal
	CounterpartyID string
	ReferenceID    string
	OrderID        string
	CaptureID      string
	Note           string
	Status         string
	CreatedAt      time.Time
}

// TransactionPage is one page of transactions, newest first.
type TransactionPage struct {
	Items      []Transaction
	NextCursor string
}
