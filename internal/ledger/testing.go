package ledger

import "context"

// SeedBalance is a test helper that funds a wallet with a TOP_UP entry so
// the seeded balance still reconciles against the ledger.
func SeedBalance(e *Engine, ownerID string, amount int64) error {
	_, err := e.Credit(context.Background(), ownerID, amount, e.base, EntryMeta{Kind: KindTopUp, Note: "seed"})
	return err
}
