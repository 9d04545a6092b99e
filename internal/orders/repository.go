package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpoint/stockpoint/internal/ledger"
	"github.com/stockpoint/stockpoint/internal/platform/db"
	"github.com/stockpoint/stockpoint/internal/shared"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one repeatable-read transaction. The TxRepository
// handed to fn shares the transaction with the ledger poster it exposes.
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

func (t *txRepo) InsertOrder(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO purchase_orders (id, number, vendor, location_id, status, order_date, expected_date, total_amount, note, created_by, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		po.ID, po.Number, po.Vendor, po.LocationID, string(po.Status), po.OrderDate, po.ExpectedDate,
		po.TotalAmount, po.Note, po.CreatedBy, po.Version, po.CreatedAt)
	if err != nil {
		return fmt.Errorf("orders: insert header: %w", err)
	}
	return nil
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO purchase_order_lines (id, order_id, product_id, variant_id, product_name, position, qty_ordered, qty_received, unit_price, total_price, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		line.ID, line.OrderID, line.ProductID, line.VariantID, line.ProductName, line.Position,
		line.QtyOrdered, line.QtyReceived, line.UnitPrice, line.TotalPrice, line.Note)
	if err != nil {
		return fmt.Errorf("orders: insert line: %w", err)
	}
	return nil
}

func (t *txRepo) UpdateLineReceived(ctx context.Context, lineID uuid.UUID, qtyReceived int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_order_lines SET qty_received = $2 WHERE id = $1`,
		lineID, qtyReceived)
	if err != nil {
		return fmt.Errorf("orders: update line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateStatus bumps the header status with an optimistic version check. A
// zero row count means another writer committed first.
func (t *txRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, version int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET status = $2, version = version + 1 WHERE id = $1 AND version = $3`,
		id, string(status), version)
	if err != nil {
		return fmt.Errorf("orders: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrVersionConflict
	}
	return nil
}

// Get loads the header with its lines ordered by position.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (PurchaseOrder, []Line, error) {
	var po PurchaseOrder
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, vendor, location_id, status, order_date, expected_date, total_amount, note, created_by, version, created_at
		 FROM purchase_orders WHERE id = $1`, id).
		Scan(&po.ID, &po.Number, &po.Vendor, &po.LocationID, &status, &po.OrderDate, &po.ExpectedDate,
			&po.TotalAmount, &po.Note, &po.CreatedBy, &po.Version, &po.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, nil, shared.ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, nil, fmt.Errorf("orders: get header: %w", err)
	}
	po.Status = Status(status)

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, variant_id, product_name, position, qty_ordered, qty_received, unit_price, total_price, note
		 FROM purchase_order_lines WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return PurchaseOrder{}, nil, fmt.Errorf("orders: list lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.VariantID, &line.ProductName,
			&line.Position, &line.QtyOrdered, &line.QtyReceived, &line.UnitPrice, &line.TotalPrice, &line.Note); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	return po, lines, rows.Err()
}

var orderSortColumns = map[string]string{
	"number":        "number",
	"vendor":        "vendor",
	"order_date":    "order_date",
	"expected_date": "expected_date",
	"total_amount":  "total_amount",
	"created_at":    "created_at",
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
	if filters.Search != "" {
		where = append(where, fmt.Sprintf("(number ILIKE $%d OR vendor ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_orders WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("orders: count: %w", err)
	}

	sortCol, ok := orderSortColumns[filters.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(filters.SortDir, "asc") {
		dir = "ASC"
	}

	sql := fmt.Sprintf(
		`SELECT id, number, vendor, location_id, status, order_date, expected_date, total_amount, created_at
		 FROM purchase_orders WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		whereSQL, sortCol, dir, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var it ListItem
		var status string
		if err := rows.Scan(&it.ID, &it.Number, &it.Vendor, &it.LocationID, &status, &it.OrderDate,
			&it.ExpectedDate, &it.TotalAmount, &it.CreatedAt); err != nil {
			return nil, 0, err
		}
		it.Status = Status(status)
		items = append(items, it)
	}
	return items, total, rows.Err()
}
