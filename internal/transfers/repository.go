package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpoint/stockpoint/internal/ledger"
	"github.com/stockpoint/stockpoint/internal/platform/db"
	"github.com/stockpoint/stockpoint/internal/shared"
)

// Repository persists stock transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one repeatable-read transaction shared with the
// ledger poster it exposes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Ledger() ledger.Poster {
	return ledger.NewTxPoster(t.tx)
}

func (t *txRepo) InsertTransfer(ctx context.Context, tr StockTransfer) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stock_transfers (id, number, origin_id, destination_id, destination_label, status, note, created_by, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tr.ID, tr.Number, tr.OriginID, tr.DestinationID, tr.DestinationLabel, string(tr.Status),
		tr.Note, tr.CreatedBy, tr.Version, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("transfers: insert header: %w", err)
	}
	return nil
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stock_transfer_lines (id, transfer_id, product_id, variant_id, product_name, position, qty, unit_price, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		line.ID, line.TransferID, line.ProductID, line.VariantID, line.ProductName, line.Position,
		line.Qty, line.UnitPrice, line.Note)
	if err != nil {
		return fmt.Errorf("transfers: insert line: %w", err)
	}
	return nil
}

// MarkCompleted flips the status with an optimistic version check.
func (t *txRepo) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, version int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE stock_transfers SET status = $2, completed_at = $3, version = version + 1
		 WHERE id = $1 AND version = $4`,
		id, string(StatusCompleted), completedAt, version)
	if err != nil {
		return fmt.Errorf("transfers: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrVersionConflict
	}
	return nil
}

// Get loads the header with its lines ordered by position.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (StockTransfer, []Line, error) {
	var tr StockTransfer
	var status string
	var completedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, origin_id, destination_id, destination_label, status, note, created_by, version, created_at, completed_at
		 FROM stock_transfers WHERE id = $1`, id).
		Scan(&tr.ID, &tr.Number, &tr.OriginID, &tr.DestinationID, &tr.DestinationLabel, &status,
			&tr.Note, &tr.CreatedBy, &tr.Version, &tr.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockTransfer{}, nil, shared.ErrNotFound
	}
	if err != nil {
		return StockTransfer{}, nil, fmt.Errorf("transfers: get header: %w", err)
	}
	tr.Status = Status(status)
	if completedAt.Valid {
		tr.CompletedAt = completedAt.Time
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, transfer_id, product_id, variant_id, product_name, position, qty, unit_price, note
		 FROM stock_transfer_lines WHERE transfer_id = $1 ORDER BY position`, id)
	if err != nil {
		return StockTransfer{}, nil, fmt.Errorf("transfers: list lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.TransferID, &line.ProductID, &line.VariantID, &line.ProductName,
			&line.Position, &line.Qty, &line.UnitPrice, &line.Note); err != nil {
			return StockTransfer{}, nil, err
		}
		lines = append(lines, line)
	}
	return tr, lines, rows.Err()
}

var transferSortColumns = map[string]string{
	"number":       "number",
	"created_at":   "created_at",
	"completed_at": "completed_at",
}

// List returns a filtered page plus the total match count.
func (r *Repository) List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argNum := 1
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filters.Status)
		argNum++
	}
	if filters.OriginID != 0 {
		where = append(where, fmt.Sprintf("origin_id = $%d", argNum))
		args = append(args, filters.OriginID)
		argNum++
	}
	if filters.Search != "" {
		where = append(where, fmt.Sprintf("number ILIKE $%d", argNum))
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_transfers WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("transfers: count: %w", err)
	}

	sortCol, ok := transferSortColumns[filters.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(filters.SortDir, "asc") {
		dir = "ASC"
	}

	sql := fmt.Sprintf(
		`SELECT id, number, origin_id, destination_id, status, created_at, completed_at
		 FROM stock_transfers WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		whereSQL, sortCol, dir, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("transfers: list: %w", err)
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var it ListItem
		var status string
		var completedAt pgtype.Timestamptz
		if err := rows.Scan(&it.ID, &it.Number, &it.OriginID, &it.DestinationID, &status, &it.CreatedAt, &completedAt); err != nil {
			return nil, 0, err
		}
		it.Status = Status(status)
		if completedAt.Valid {
			it.CompletedAt = completedAt.Time
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}
