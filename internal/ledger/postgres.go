package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"

	defaultTxBackoff = 20 * time.Millisecond
)

// PostgresStore persists wallets and ledger entries in PostgreSQL. Each
// transaction runs at SERIALIZABLE isolation and is retried on conflict.
type PostgresStore struct {
	db         *pgxpool.Pool
	maxRetries uint64
	backoff    time.Duration
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool, maxRetries uint64) *PostgresStore {
	return &PostgresStore{db: db, maxRetries: maxRetries, backoff: defaultTxBackoff}
}

// RunInTx executes fn in a serializable transaction, re-running it when the
// database aborts it because of a concurrent writer.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	b := retry.NewExponential(s.backoff)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(s.maxRetries, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.runOnce(ctx, fn)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if isRetryable(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
		return true
	}
	return false
}

const entryColumns = `id, owner_id, kind, direction, amount, currency, balance_after,
        COALESCE(counterparty_id, ''), COALESCE(gateway_order_id, ''), COALESCE(capture_id, ''),
        COALESCE(reference_id, ''), COALESCE(note, ''), status, created_at`

// ListEntries returns up to limit entries for ownerID older than cursor.
func (s *PostgresStore) ListEntries(ctx context.Context, ownerID, cursor string, limit int) ([]Entry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor == "" {
		rows, err = s.db.Query(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries
        WHERE owner_id = $1
        ORDER BY seq DESC
        LIMIT $2`, ownerID, limit)
	} else {
		var seq int64
		err = s.db.QueryRow(ctx, `SELECT seq FROM ledger_entries WHERE id = $1 AND owner_id = $2`, cursor, ownerID).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCursor
		}
		if err != nil {
			return nil, err
		}
		rows, err = s.db.Query(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries
        WHERE owner_id = $1 AND seq < $2
        ORDER BY seq DESC
        LIMIT $3`, ownerID, seq, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	const query = `SELECT owner_id, balance, currency, created_at, updated_at
        FROM wallets WHERE owner_id = $1 FOR UPDATE`
	var w Wallet
	err := t.tx.QueryRow(ctx, query, ownerID).Scan(&w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func (t *pgTx) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO wallets (owner_id, balance, currency, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)`, w.OwnerID, w.Balance, w.Currency, w.CreatedAt, w.UpdatedAt)
	return err
}

func (t *pgTx) UpdateBalance(ctx context.Context, ownerID string, balance int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE owner_id = $1`, ownerID, balance, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e Entry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, owner_id, kind, direction, amount, currency, balance_after, counterparty_id,
         gateway_order_id, capture_id, reference_id, note, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
                NULLIF($11, ''), NULLIF($12, ''), $13, $14)`,
		e.ID, e.OwnerID, string(e.Kind), string(e.Direction), e.Amount, e.Currency, e.BalanceAfter,
		e.CounterpartyID, e.GatewayOrderID, e.CaptureID, e.ReferenceID, e.Note, e.Status, e.CreatedAt)
	return err
}

func (t *pgTx) EntryByCaptureID(ctx context.Context, captureID string) (Entry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE capture_id = $1`, captureID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

func (t *pgTx) Ride(ctx context.Context, rideID string) (Ride, error) {
	const query = `SELECT id, rider_id, COALESCE(driver_id, ''), status, fare, currency, payment
        FROM rides WHERE id = $1 FOR UPDATE`
	var (
		r       Ride
		payment []byte
	)
	err := t.tx.QueryRow(ctx, query, rideID).Scan(&r.ID, &r.RiderID, &r.DriverID, &r.Status, &r.Fare, &r.Currency, &payment)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ride{}, ErrRideNotFound
	}
	if err != nil {
		return Ride{}, err
	}
	if len(payment) > 0 {
		if err := json.Unmarshal(payment, &r.Payment); err != nil {
			return Ride{}, fmt.Errorf("decode ride %s payment: %w", rideID, err)
		}
	}
	return r, nil
}

func (t *pgTx) UpdateRidePayment(ctx context.Context, rideID string, payment RidePayment) error {
	raw, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("encode ride payment: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE rides SET payment = $2::jsonb, updated_at = now() WHERE id = $1`, rideID, string(raw))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRideNotFound
	}
	return nil
}

func (t *pgTx) Business(ctx context.Context, businessID string) (Business, error) {
	var b Business
	err := t.tx.QueryRow(ctx, `SELECT id, owner_id, name FROM businesses WHERE id = $1`, businessID).
		Scan(&b.ID, &b.OwnerID, &b.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Business{}, ErrBusinessNotFound
	}
	if err != nil {
		return Business{}, err
	}
	return b, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO marketplace_orders
        (id, buyer_id, business_id, owner_id, items, address, total, currency, status, created_at)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10)`,
		o.ID, o.BuyerID, o.BusinessID, o.OwnerID, string(items), o.Address, o.Total, o.Currency, o.Status, o.CreatedAt)
	return err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		kind, dir string
	)
	err := row.Scan(&e.ID, &e.OwnerID, &kind, &dir, &e.Amount, &e.Currency, &e.BalanceAfter,
		&e.CounterpartyID, &e.GatewayOrderID, &e.CaptureID, &e.ReferenceID, &e.Note, &e.Status, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = EntryKind(kind)
	e.Direction = Direction(dir)
	return e, nil
}
