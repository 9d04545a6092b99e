package ledger

import (
	"context"
	"fmt"

	"github.com/stockpoint/stockpoint/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Poster) error) error
	OnHand(ctx context.Context, productID, variantID, locationID int64) (int64, error)
	History(ctx context.Context, filter HistoryFilter) ([]Entry, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records domain counters.
type MetricsPort interface {
	EntryPosted(entryType string)
}

// Service coordinates ledger reads and manual adjustments. Receipt and
// transfer entries are posted by their engines through a Poster so they
// share the engine's transaction; this service owns everything else.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *OnHandCache
	metrics     MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache *OnHandCache, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache, metrics: metrics}
}

// PostAdjustment appends a manual correction entry.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Entry, error) {
	if input.LocationID == 0 || input.ProductID == 0 {
		return Entry{}, shared.NewValidationError("product", "product and location required")
	}
	if input.Qty == 0 {
		return Entry{}, shared.NewValidationError("quantity", "must be non zero")
	}

	key := fmt.Sprintf("ADJ:%s", input.Ref)
	insertedKey := false
	if s.idempotency != nil && input.Ref != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return Entry{}, err
		}
		insertedKey = true
	}

	var posted Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, poster Poster) error {
		entry, err := poster.Post(ctx, Entry{
			ProductID:  input.ProductID,
			VariantID:  input.VariantID,
			LocationID: input.LocationID,
			Qty:        input.Qty,
			Type:       EntryTypeAdjustment,
			RefType:    RefManual,
			Note:       input.Note,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return err
		}
		posted = entry
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Entry{}, err
	}

	s.InvalidateOnHand(ctx, input.ProductID, input.VariantID, input.LocationID)
	if s.metrics != nil {
		s.metrics.EntryPosted(string(EntryTypeAdjustment))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger:adjust",
			Entity:   "ledger_entry",
			EntityID: fmt.Sprintf("%d", posted.ID),
			Meta: map[string]any{
				"location_id": input.LocationID,
				"product_id":  input.ProductID,
				"qty":         input.Qty,
				"note":        input.Note,
			},
		})
	}
	return posted, nil
}

// OnHand returns the current available quantity, served from cache when warm.
func (s *Service) OnHand(ctx context.Context, productID, variantID, locationID int64) (int64, error) {
	if productID == 0 || locationID == 0 {
		return 0, shared.NewValidationError("product", "product and location required")
	}
	return s.cache.Fetch(ctx, productID, variantID, locationID, func(ctx context.Context) (int64, error) {
		return s.repo.OnHand(ctx, productID, variantID, locationID)
	})
}

// History lists stock card entries.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if filter.LocationID == 0 || filter.ProductID == 0 {
		return nil, shared.NewValidationError("product", "product and location required")
	}
	return s.repo.History(ctx, filter)
}

// InvalidateOnHand drops the cached figure for one key. The engines call it
// after their transactions commit.
func (s *Service) InvalidateOnHand(ctx context.Context, productID, variantID, locationID int64) {
	s.cache.Invalidate(ctx, productID, variantID, locationID)
}

// RecordPosted bumps the posted-entries counter for engine-posted entries.
func (s *Service) RecordPosted(entryType EntryType, n int) {
	if s.metrics == nil {
		return
	}
	for i := 0; i < n; i++ {
		s.metrics.EntryPosted(string(entryType))
	}
}
