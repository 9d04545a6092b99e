// Package ledgertest provides an in-memory ledger used by engine tests.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/stockpoint/stockpoint/internal/ledger"
)

type balanceKey struct {
	LocationID int64
	ProductID  int64
	VariantID  int64
}

// MemoryLedger implements ledger.RepositoryPort and ledger.Poster over maps.
// Appends outside a transaction callback apply immediately; WithTx stages
// writes and discards them when the callback fails, mirroring the rollback
// behaviour of the real repository.
type MemoryLedger struct {
	mu       sync.Mutex
	nextID   int64
	Entries  []ledger.Entry
	balances map[balanceKey]int64
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[balanceKey]int64)}
}

// Seed sets an opening balance without writing an entry.
func (m *MemoryLedger) Seed(productID, variantID, locationID, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{locationID, productID, variantID}] = qty
}

// WithTx runs fn against a staged copy and merges on success.
func (m *MemoryLedger) WithTx(ctx context.Context, fn func(context.Context, ledger.Poster) error) error {
	tx := m.Begin()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// Begin returns a staged poster for use by engine memory repositories.
func (m *MemoryLedger) Begin() *MemoryTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := make(map[balanceKey]int64, len(m.balances))
	for k, v := range m.balances {
		staged[k] = v
	}
	return &MemoryTx{parent: m, balances: staged}
}

// OnHand implements ledger.RepositoryPort.
func (m *MemoryLedger) OnHand(ctx context.Context, productID, variantID, locationID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{locationID, productID, variantID}], nil
}

// History implements ledger.RepositoryPort.
func (m *MemoryLedger) History(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for i := len(m.Entries) - 1; i >= 0; i-- {
		e := m.Entries[i]
		if e.LocationID == filter.LocationID && e.ProductID == filter.ProductID && e.VariantID == filter.VariantID {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntriesFor returns all entries for one key, oldest first.
func (m *MemoryLedger) EntriesFor(productID, variantID, locationID int64) []ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for _, e := range m.Entries {
		if e.LocationID == locationID && e.ProductID == productID && e.VariantID == variantID {
			out = append(out, e)
		}
	}
	return out
}

// MemoryTx is a staged ledger transaction.
type MemoryTx struct {
	parent   *MemoryLedger
	balances map[balanceKey]int64
	entries  []ledger.Entry
}

// OnHandForUpdate implements ledger.Poster.
func (tx *MemoryTx) OnHandForUpdate(ctx context.Context, productID, variantID, locationID int64) (int64, error) {
	return tx.balances[balanceKey{locationID, productID, variantID}], nil
}

// Post implements ledger.Poster.
func (tx *MemoryTx) Post(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	if entry.Qty == 0 {
		return ledger.Entry{}, ledger.ErrInvalidQuantity
	}
	if entry.ProductID == 0 || entry.LocationID == 0 {
		return ledger.Entry{}, ledger.ErrInvalidEntry
	}
	key := balanceKey{entry.LocationID, entry.ProductID, entry.VariantID}
	newQty := tx.balances[key] + entry.Qty
	if newQty < 0 {
		return ledger.Entry{}, ledger.ErrInsufficientStock
	}
	tx.parent.mu.Lock()
	tx.parent.nextID++
	entry.ID = tx.parent.nextID
	tx.parent.mu.Unlock()
	if entry.PostedAt.IsZero() {
		entry.PostedAt = time.Now().UTC()
	}
	tx.balances[key] = newQty
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

// Commit merges staged writes into the parent ledger.
func (tx *MemoryTx) Commit() {
	tx.parent.mu.Lock()
	defer tx.parent.mu.Unlock()
	tx.parent.balances = tx.balances
	tx.parent.Entries = append(tx.parent.Entries, tx.entries...)
	tx.entries = nil
}
