package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpoint/stockpoint/internal/platform/db"
)

// Poster appends entries inside an enclosing transaction. The purchase-order
// and stock-transfer repositories obtain one over their own pgx.Tx so that
// line writes, header updates and ledger appends commit or roll back as a
// single unit.
type Poster interface {
	// OnHandForUpdate reads the materialized balance with the row locked
	// for the remainder of the transaction.
	OnHandForUpdate(ctx context.Context, productID, variantID, locationID int64) (int64, error)
	// Post appends one entry and moves the balance, rejecting appends that
	// would drive on-hand negative.
	Post(ctx context.Context, entry Entry) (Entry, error)
}

// Repository persists ledger entries and balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NewTxPoster wraps an existing transaction in a Poster.
func NewTxPoster(tx pgx.Tx) Poster {
	return &txPoster{tx: tx}
}

// WithTx runs fn with a Poster bound to a fresh repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Poster) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txPoster{tx: tx})
	})
}

type txPoster struct {
	tx pgx.Tx
}

func (p *txPoster) OnHandForUpdate(ctx context.Context, productID, variantID, locationID int64) (int64, error) {
	var qty int64
	err := p.tx.QueryRow(ctx,
		`SELECT qty FROM stock_balances WHERE location_id=$1 AND product_id=$2 AND variant_id=$3 FOR UPDATE`,
		locationID, productID, variantID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: lock balance: %w", err)
	}
	return qty, nil
}

func (p *txPoster) Post(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Qty == 0 {
		return Entry{}, ErrInvalidQuantity
	}
	if entry.ProductID == 0 || entry.LocationID == 0 {
		return Entry{}, ErrInvalidEntry
	}
	onHand, err := p.OnHandForUpdate(ctx, entry.ProductID, entry.VariantID, entry.LocationID)
	if err != nil {
		return Entry{}, err
	}
	newQty := onHand + entry.Qty
	if newQty < 0 {
		return Entry{}, ErrInsufficientStock
	}

	if entry.PostedAt.IsZero() {
		entry.PostedAt = time.Now().UTC()
	}
	var refID pgtype.UUID
	if entry.RefID != uuid.Nil {
		refID = pgtype.UUID{Bytes: entry.RefID, Valid: true}
	}
	err = p.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (product_id, variant_id, location_id, qty, entry_type, ref_type, ref_id, note, actor_id, posted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		entry.ProductID, entry.VariantID, entry.LocationID, entry.Qty, string(entry.Type),
		entry.RefType, refID, entry.Note, entry.ActorID, entry.PostedAt).Scan(&entry.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}

	_, err = p.tx.Exec(ctx,
		`INSERT INTO stock_balances (location_id, product_id, variant_id, qty, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (location_id, product_id, variant_id)
		 DO UPDATE SET qty = $4, updated_at = NOW()`,
		entry.LocationID, entry.ProductID, entry.VariantID, newQty)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: upsert balance: %w", err)
	}
	return entry, nil
}

// OnHand reads the materialized balance. A missing row means zero.
func (r *Repository) OnHand(ctx context.Context, productID, variantID, locationID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx,
		`SELECT qty FROM stock_balances WHERE location_id=$1 AND product_id=$2 AND variant_id=$3`,
		locationID, productID, variantID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: read balance: %w", err)
	}
	return qty, nil
}

// History lists entries for the stock card, newest first.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	sql := `SELECT id, product_id, variant_id, location_id, qty, entry_type, ref_type, COALESCE(ref_id, '00000000-0000-0000-0000-000000000000'), note, actor_id, posted_at
		FROM ledger_entries
		WHERE location_id = $1 AND product_id = $2 AND variant_id = $3`
	args := []any{filter.LocationID, filter.ProductID, filter.VariantID}
	argNum := 4
	if !filter.From.IsZero() {
		sql += fmt.Sprintf(` AND posted_at >= $%d`, argNum)
		args = append(args, filter.From)
		argNum++
	}
	if !filter.To.IsZero() {
		sql += fmt.Sprintf(` AND posted_at <= $%d`, argNum)
		args = append(args, filter.To)
		argNum++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	sql += fmt.Sprintf(` ORDER BY posted_at DESC, id DESC LIMIT $%d`, argNum)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entryType string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.VariantID, &e.LocationID, &e.Qty, &entryType,
			&e.RefType, &e.RefID, &e.Note, &e.ActorID, &e.PostedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(entryType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Drift describes a balance row diverging from the entry sum, reported by
// the integrity sweep.
type Drift struct {
	LocationID int64
	ProductID  int64
	VariantID  int64
	BalanceQty int64
	LedgerQty  int64
}

// ListDrift cross-checks materialized balances against entry sums.
func (r *Repository) ListDrift(ctx context.Context) ([]Drift, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT b.location_id, b.product_id, b.variant_id, b.qty,
			COALESCE((SELECT SUM(e.qty) FROM ledger_entries e
				WHERE e.location_id = b.location_id AND e.product_id = b.product_id AND e.variant_id = b.variant_id), 0)
		 FROM stock_balances b`)
	if err != nil {
		return nil, fmt.Errorf("ledger: drift scan: %w", err)
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.LocationID, &d.ProductID, &d.VariantID, &d.BalanceQty, &d.LedgerQty); err != nil {
			return nil, err
		}
		if d.BalanceQty != d.LedgerQty {
			drifts = append(drifts, d)
		}
	}
	return drifts, rows.Err()
}
