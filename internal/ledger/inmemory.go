package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory Store useful for unit tests.
// Transactions are serialized by a single mutex and staged until commit.
type MemoryStore struct {
	mu         sync.RWMutex
	wallets    map[string]Wallet
	entries    []Entry
	byCapture  map[string]int
	rides      map[string]Ride
	businesses map[string]Business
	orders     map[string]Order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:    make(map[string]Wallet),
		byCapture:  make(map[string]int),
		rides:      make(map[string]Ride),
		businesses: make(map[string]Business),
		orders:     make(map[string]Order),
	}
}

// RunInTx executes fn against a staged view and applies it only on success.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:   s,
		wallets: make(map[string]Wallet),
		rides:   make(map[string]Ride),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ListEntries returns up to limit entries for ownerID older than cursor.
func (s *MemoryStore) ListEntries(_ context.Context, ownerID, cursor string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.entries) - 1
	if cursor != "" {
		found := false
		for i := len(s.entries) - 1; i >= 0; i-- {
			if s.entries[i].ID == cursor && s.entries[i].OwnerID == ownerID {
				start, found = i-1, true
				break
			}
		}
		if !found {
			return nil, ErrInvalidCursor
		}
	}

	out := make([]Entry, 0, limit)
	for i := start; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].OwnerID == ownerID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// PutRide stores a ride as the ride subsystem would.
func (s *MemoryStore) PutRide(r Ride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rides[r.ID] = r
}

// PutBusiness stores a marketplace business.
func (s *MemoryStore) PutBusiness(b Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = b
}

// GetRide returns a committed ride.
func (s *MemoryStore) GetRide(id string) (Ride, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rides[id]
	return r, ok
}

// Orders returns all committed marketplace orders.
func (s *MemoryStore) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

// AllEntries returns every committed entry for ownerID in insertion order.
func (s *MemoryStore) AllEntries(ownerID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}

type memoryTx struct {
	store   *MemoryStore
	wallets map[string]Wallet
	entries []Entry
	rides   map[string]Ride
	orders  []Order
}

func (t *memoryTx) Wallet(_ context.Context, ownerID string) (Wallet, error) {
	if w, ok := t.wallets[ownerID]; ok {
		return w, nil
	}
	if w, ok := t.store.wallets[ownerID]; ok {
		return w, nil
	}
	return Wallet{}, ErrWalletNotFound
}

func (t *memoryTx) CreateWallet(_ context.Context, w Wallet) error {
	t.wallets[w.OwnerID] = w
	return nil
}

func (t *memoryTx) UpdateBalance(ctx context.Context, ownerID string, balance int64, at time.Time) error {
	w, err := t.Wallet(ctx, ownerID)
	if err != nil {
		return err
	}
	w.Balance = balance
	w.UpdatedAt = at
	t.wallets[ownerID] = w
	return nil
}

func (t *memoryTx) InsertEntry(_ context.Context, e Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *memoryTx) EntryByCaptureID(_ context.Context, captureID string) (Entry, error) {
	for _, e := range t.entries {
		if e.CaptureID == captureID {
			return e, nil
		}
	}
	if i, ok := t.store.byCapture[captureID]; ok {
		return t.store.entries[i], nil
	}
	return Entry{}, ErrEntryNotFound
}

func (t *memoryTx) Ride(_ context.Context, rideID string) (Ride, error) {
	if r, ok := t.rides[rideID]; ok {
		return r, nil
	}
	if r, ok := t.store.rides[rideID]; ok {
		return r, nil
	}
	return Ride{}, ErrRideNotFound
}

func (t *memoryTx) UpdateRidePayment(ctx context.Context, rideID string, payment RidePayment) error {
	r, err := t.Ride(ctx, rideID)
	if err != nil {
		return err
	}
	r.Payment = payment
	t.rides[rideID] = r
	return nil
}

func (t *memoryTx) Business(_ context.Context, businessID string) (Business, error) {
	if b, ok := t.store.businesses[businessID]; ok {
		return b, nil
	}
	return Business{}, ErrBusinessNotFound
}

func (t *memoryTx) InsertOrder(_ context.Context, order Order) error {
	t.orders = append(t.orders, order)
	return nil
}

func (t *memoryTx) commit() {
	s := t.store
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	for _, e := range t.entries {
		s.entries = append(s.entries, e)
		if e.CaptureID != "" {
			s.byCapture[e.CaptureID] = len(s.entries) - 1
		}
	}
	for id, r := range t.rides {
		s.rides[id] = r
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
}
