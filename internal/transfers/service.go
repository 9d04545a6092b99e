package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stockpoint/stockpoint/internal/catalog"
	"github.com/stockpoint/stockpoint/internal/ledger"
	"github.com/stockpoint/stockpoint/internal/recon"
	"github.com/stockpoint/stockpoint/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (StockTransfer, []Line, error)
	List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error)
}

// TxRepository exposes transactional operations. Ledger returns a poster
// bound to the same transaction so the debit/credit pairs and the status
// flip commit as one unit.
type TxRepository interface {
	InsertTransfer(ctx context.Context, tr StockTransfer) error
	InsertLine(ctx context.Context, line Line) error
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, version int64) error
	Ledger() ledger.Poster
}

// LedgerPort is the post-commit ledger surface.
type LedgerPort interface {
	InvalidateOnHand(ctx context.Context, productID, variantID, locationID int64)
	RecordPosted(entryType ledger.EntryType, n int)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the stock-transfer lifecycle.
type Service struct {
	repo        RepositoryPort
	catalog     catalog.Resolver
	ledger      LedgerPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	numbers     *recon.NumberGenerator
}

// NewService constructs the transfer service.
func NewService(repo RepositoryPort, resolver catalog.Resolver, ledgerPort LedgerPort, audit AuditPort, idem *shared.IdempotencyStore, numbers *recon.NumberGenerator) *Service {
	if numbers == nil {
		numbers = recon.NewNumberGenerator(time.Now().UnixNano(), nil)
	}
	return &Service{repo: repo, catalog: resolver, ledger: ledgerPort, audit: audit, idempotency: idem, numbers: numbers}
}

// CreateInput describes creation payload.
type CreateInput struct {
	OriginID         int64
	DestinationID    int64
	DestinationLabel string
	Note             string
	ActorID          int64
	Lines            []LineInput
}

// LineInput describes one requested line.
type LineInput struct {
	ProductID int64
	VariantID int64
	Qty       int64
	Note      string
}

const numberAttempts = 5

// Create persists the transfer and immediately chains completion, matching
// the single user-visible "transfer stock" action. When the chained
// completion fails the transfer stays PENDING with zero ledger entries and
// the caller gets a CompletionError carrying the created transfer, so
// Complete can be retried later on its own.
func (s *Service) Create(ctx context.Context, input CreateInput) (StockTransfer, []Line, error) {
	if input.OriginID == 0 {
		return StockTransfer{}, nil, shared.NewValidationError("origin", "required")
	}
	if input.DestinationID == 0 {
		return StockTransfer{}, nil, shared.NewValidationError("destination", "required")
	}
	if input.DestinationID == input.OriginID {
		return StockTransfer{}, nil, shared.NewValidationError("destination", "must differ from origin")
	}
	if len(input.Lines) == 0 {
		return StockTransfer{}, nil, shared.NewValidationError("lines", "add at least one item with quantity")
	}

	now := time.Now().UTC()
	tr := StockTransfer{
		ID:               uuid.New(),
		OriginID:         input.OriginID,
		DestinationID:    input.DestinationID,
		DestinationLabel: input.DestinationLabel,
		Status:           StatusPending,
		Note:             input.Note,
		CreatedBy:        input.ActorID,
		Version:          1,
		CreatedAt:        now,
	}

	var lines []Line
	for i, in := range input.Lines {
		if in.Qty <= 0 {
			return StockTransfer{}, nil, shared.NewValidationError("lines", fmt.Sprintf("line %d: quantity must be positive", i+1))
		}
		product, err := s.catalog.Resolve(ctx, in.ProductID, in.VariantID)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownProduct) {
				return StockTransfer{}, nil, shared.NewValidationError("lines", fmt.Sprintf("line %d: unknown product", i+1))
			}
			return StockTransfer{}, nil, err
		}
		lines = append(lines, Line{
			ID:          uuid.New(),
			TransferID:  tr.ID,
			ProductID:   in.ProductID,
			VariantID:   in.VariantID,
			ProductName: product.Name,
			Position:    i,
			Qty:         in.Qty,
			UnitPrice:   product.UnitCost,
			Note:        in.Note,
		})
	}

	var err error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		tr.Number = s.numbers.Next("TR")
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.InsertTransfer(ctx, tr); err != nil {
				return err
			}
			for _, line := range lines {
				if err := tx.InsertLine(ctx, line); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil || !shared.IsUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return StockTransfer{}, nil, &shared.PersistenceError{Op: "create transfer", Err: err}
	}
	s.recordAudit(ctx, input.ActorID, "TR_CREATE", tr.ID, map[string]any{"number": tr.Number, "origin": tr.OriginID, "destination": tr.DestinationID})

	completed, err := s.Complete(ctx, CompleteInput{TransferID: tr.ID, ActorID: input.ActorID})
	if err != nil {
		return tr, lines, &CompletionError{Transfer: tr, Err: err}
	}
	return completed, lines, nil
}

// CompleteInput carries one completion call.
type CompleteInput struct {
	TransferID     uuid.UUID
	ActorID        int64
	IdempotencyKey string
}

// Complete re-validates origin on-hand per line and posts the debit/credit
// pair for every line, both entries carrying the line id as ref. Everything
// runs in one transaction; any failure leaves the transfer PENDING with
// nothing posted.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (StockTransfer, error) {
	tr, lines, err := s.repo.Get(ctx, input.TransferID)
	if err != nil {
		return StockTransfer{}, err
	}
	if !tr.Status.CanComplete() {
		return StockTransfer{}, fmt.Errorf("transfer %s is %s: %w", tr.Number, tr.Status, shared.ErrInvalidState)
	}

	key := "TR_COMPLETE:" + input.IdempotencyKey
	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "transfers"); err != nil {
			return StockTransfer{}, err
		}
		insertedKey = true
	}

	completedAt := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poster := tx.Ledger()
		for _, line := range lines {
			onHand, err := poster.OnHandForUpdate(ctx, line.ProductID, line.VariantID, tr.OriginID)
			if err != nil {
				return err
			}
			if err := recon.ValidateTransferQuantity(line.Qty, onHand); err != nil {
				return &shared.QuantityExceededError{LineID: line.ID, Requested: line.Qty, Available: onHand}
			}
			note := fmt.Sprintf("transfer %s", tr.Number)
			_, err = poster.Post(ctx, ledger.Entry{
				ProductID:  line.ProductID,
				VariantID:  line.VariantID,
				LocationID: tr.OriginID,
				Qty:        -line.Qty,
				Type:       ledger.EntryTypeTransferOut,
				RefType:    ledger.RefTransferLine,
				RefID:      line.ID,
				Note:       note,
				ActorID:    input.ActorID,
			})
			if err != nil {
				return err
			}
			_, err = poster.Post(ctx, ledger.Entry{
				ProductID:  line.ProductID,
				VariantID:  line.VariantID,
				LocationID: tr.DestinationID,
				Qty:        line.Qty,
				Type:       ledger.EntryTypeTransferIn,
				RefType:    ledger.RefTransferLine,
				RefID:      line.ID,
				Note:       note,
				ActorID:    input.ActorID,
			})
			if err != nil {
				return err
			}
		}
		return tx.MarkCompleted(ctx, tr.ID, completedAt, tr.Version)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return StockTransfer{}, err
	}

	tr.Status = StatusCompleted
	tr.CompletedAt = completedAt
	tr.Version++
	for _, line := range lines {
		s.ledgerInvalidate(ctx, line.ProductID, line.VariantID, tr.OriginID)
		s.ledgerInvalidate(ctx, line.ProductID, line.VariantID, tr.DestinationID)
	}
	if s.ledger != nil {
		s.ledger.RecordPosted(ledger.EntryTypeTransferOut, len(lines))
		s.ledger.RecordPosted(ledger.EntryTypeTransferIn, len(lines))
	}
	s.recordAudit(ctx, input.ActorID, "TR_COMPLETE", tr.ID, map[string]any{"number": tr.Number, "lines": len(lines)})
	return tr, nil
}

// Get returns the transfer with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (StockTransfer, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns transfers matching the filters.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, filters)
}

func (s *Service) ledgerInvalidate(ctx context.Context, productID, variantID, locationID int64) {
	if s.ledger != nil {
		s.ledger.InvalidateOnHand(ctx, productID, variantID, locationID)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "stock_transfer", EntityID: entityID.String(), Meta: meta})
}
