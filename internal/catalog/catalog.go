// Package catalog is the consumed product-lookup boundary. The engines use
// it to validate line product references and to default unit prices; the
// catalog itself is owned elsewhere.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpoint/stockpoint/internal/shared"
)

// Product is the resolved view of a product or variant reference.
type Product struct {
	ID        int64
	VariantID int64
	Name      string
	UnitCost  float64
	IsVariant bool
}

// ErrUnknownProduct indicates the reference does not resolve.
var ErrUnknownProduct = errors.New("catalog: unknown product")

// Resolver looks up product references.
type Resolver interface {
	Resolve(ctx context.Context, productID, variantID int64) (Product, error)
}

// Repository resolves products against the catalog tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Resolve returns the product, or the variant when variantID is set.
func (r *Repository) Resolve(ctx context.Context, productID, variantID int64) (Product, error) {
	if productID == 0 {
		return Product{}, ErrUnknownProduct
	}
	if variantID == 0 {
		var p Product
		err := r.pool.QueryRow(ctx,
			`SELECT id, name, COALESCE(unit_cost, 0) FROM products WHERE id = $1`,
			productID).Scan(&p.ID, &p.Name, &p.UnitCost)
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrUnknownProduct
		}
		if err != nil {
			return Product{}, &shared.DependencyError{Dependency: "catalog", Err: fmt.Errorf("resolve product %d: %w", productID, err)}
		}
		return p, nil
	}

	var p Product
	err := r.pool.QueryRow(ctx,
		`SELECT p.id, v.id, p.name || ' / ' || v.name, COALESCE(v.unit_cost, p.unit_cost, 0)
		 FROM product_variants v
		 JOIN products p ON p.id = v.product_id
		 WHERE p.id = $1 AND v.id = $2`,
		productID, variantID).Scan(&p.ID, &p.VariantID, &p.Name, &p.UnitCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrUnknownProduct
	}
	if err != nil {
		return Product{}, &shared.DependencyError{Dependency: "catalog", Err: fmt.Errorf("resolve variant %d/%d: %w", productID, variantID, err)}
	}
	p.IsVariant = true
	return p, nil
}
