// Package locations is the consumed branch-directory boundary: listing
// locations and building the destination choice set for transfers, with the
// origin excluded so an origin-equals-destination transfer cannot be formed.
package locations

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/stockpoint/stockpoint/internal/shared"
)

// Location is one branch or warehouse.
type Location struct {
	ID   int64
	Name string
}

// Directory exposes the location lookups the engines need.
type Directory interface {
	List(ctx context.Context) ([]Location, error)
	Get(ctx context.Context, id int64) (Location, error)
	DestinationChoices(ctx context.Context, originID int64) ([]Location, error)
}

// Repository reads the locations table.
type Repository struct {
	pool     *pgxpool.Pool
	collator *collate.Collator
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, collator: collate.New(language.Und, collate.IgnoreCase)}
}

// List returns all active locations sorted by name.
func (r *Repository) List(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM locations WHERE active`)
	if err != nil {
		return nil, &shared.DependencyError{Dependency: "locations", Err: fmt.Errorf("list: %w", err)}
	}
	defer rows.Close()

	var locs []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.Name); err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.sortByName(locs)
	return locs, nil
}

// Get fetches a single location.
func (r *Repository) Get(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM locations WHERE id = $1 AND active`, id).Scan(&loc.ID, &loc.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, shared.ErrNotFound
	}
	if err != nil {
		return Location{}, &shared.DependencyError{Dependency: "locations", Err: fmt.Errorf("get %d: %w", id, err)}
	}
	return loc, nil
}

// DestinationChoices lists every location except the origin.
func (r *Repository) DestinationChoices(ctx context.Context, originID int64) ([]Location, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	choices := make([]Location, 0, len(all))
	for _, loc := range all {
		if loc.ID != originID {
			choices = append(choices, loc)
		}
	}
	return choices, nil
}

func (r *Repository) sortByName(locs []Location) {
	sort.Slice(locs, func(i, j int) bool {
		return r.collator.CompareString(locs[i].Name, locs[j].Name) < 0
	})
}
