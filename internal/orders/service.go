package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
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
	Get(ctx context.Context, id uuid.UUID) (PurchaseOrder, []Line, error)
	List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error)
}

// TxRepository exposes transactional operations. Ledger returns a poster
// bound to the same transaction so receipt entries and line updates commit
// as one unit.
type TxRepository interface {
	InsertOrder(ctx context.Context, po PurchaseOrder) error
	InsertLine(ctx context.Context, line Line) error
	UpdateLineReceived(ctx context.Context, lineID uuid.UUID, qtyReceived int64) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, version int64) error
	Ledger() ledger.Poster
}

// LedgerPort is the post-commit ledger surface: cache invalidation and
// metrics. Posting happens through TxRepository.Ledger.
type LedgerPort interface {
	InvalidateOnHand(ctx context.Context, productID, variantID, locationID int64)
	RecordPosted(entryType ledger.EntryType, n int)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase-order lifecycle.
type Service struct {
	repo        RepositoryPort
	catalog     catalog.Resolver
	ledger      LedgerPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	numbers     *recon.NumberGenerator
}

// NewService constructs the order service.
func NewService(repo RepositoryPort, resolver catalog.Resolver, ledgerPort LedgerPort, audit AuditPort, idem *shared.IdempotencyStore, numbers *recon.NumberGenerator) *Service {
	if numbers == nil {
		numbers = recon.NewNumberGenerator(time.Now().UnixNano(), nil)
	}
	return &Service{repo: repo, catalog: resolver, ledger: ledgerPort, audit: audit, idempotency: idem, numbers: numbers}
}

// CreateInput describes creation payload.
type CreateInput struct {
	Vendor       string
	LocationID   int64
	ExpectedDate time.Time
	Note         string
	ActorID      int64
	Lines        []LineInput
}

// LineInput describes one requested line. A nil UnitPrice defaults to the
// catalog unit cost.
type LineInput struct {
	ProductID int64
	VariantID int64
	Qty       int64
	UnitPrice *float64
	Note      string
}

// numberAttempts bounds regeneration when the 3-digit suffix collides.
const numberAttempts = 5

// Create persists a new order with its lines as a single unit.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, []Line, error) {
	vendor := strings.TrimSpace(input.Vendor)
	if vendor == "" {
		return PurchaseOrder{}, nil, shared.NewValidationError("vendor", "required")
	}
	if input.LocationID == 0 {
		return PurchaseOrder{}, nil, shared.NewValidationError("location", "required")
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, nil, shared.NewValidationError("lines", "add at least one item with quantity")
	}

	now := time.Now().UTC()
	order := PurchaseOrder{
		ID:           uuid.New(),
		Vendor:       vendor,
		LocationID:   input.LocationID,
		Status:       StatusOrdered,
		OrderDate:    now,
		ExpectedDate: input.ExpectedDate,
		Note:         input.Note,
		CreatedBy:    input.ActorID,
		Version:      1,
		CreatedAt:    now,
	}

	var (
		lines []Line
		total float64
	)
	for i, in := range input.Lines {
		if in.Qty <= 0 {
			return PurchaseOrder{}, nil, shared.NewValidationError("lines", fmt.Sprintf("line %d: quantity must be positive", i+1))
		}
		if in.UnitPrice != nil && *in.UnitPrice < 0 {
			return PurchaseOrder{}, nil, shared.NewValidationError("lines", fmt.Sprintf("line %d: unit price must be >= 0", i+1))
		}
		product, err := s.catalog.Resolve(ctx, in.ProductID, in.VariantID)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownProduct) {
				return PurchaseOrder{}, nil, shared.NewValidationError("lines", fmt.Sprintf("line %d: unknown product", i+1))
			}
			return PurchaseOrder{}, nil, err
		}
		price := product.UnitCost
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		line := Line{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   in.ProductID,
			VariantID:   in.VariantID,
			ProductName: product.Name,
			Position:    i,
			QtyOrdered:  in.Qty,
			UnitPrice:   price,
			TotalPrice:  round2(float64(in.Qty) * price),
			Note:        in.Note,
		}
		total += line.TotalPrice
		lines = append(lines, line)
	}
	order.TotalAmount = round2(total)

	var err error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		order.Number = s.numbers.Next("PO")
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.InsertOrder(ctx, order); err != nil {
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
		return PurchaseOrder{}, nil, &shared.PersistenceError{Op: "create order", Err: err}
	}

	s.recordAudit(ctx, input.ActorID, "PO_CREATE", order.ID, map[string]any{"number": order.Number, "total": order.TotalAmount})
	return order, lines, nil
}

// ReceiveInput carries one receive call. IdempotencyKey is optional; when
// set, a replay with the same key is rejected instead of double-posting.
type ReceiveInput struct {
	OrderID        uuid.UUID
	Quantities     map[uuid.UUID]int64
	ActorID        int64
	IdempotencyKey string
}

// Receive applies quantities-to-receive-now per line. Entries with a zero
// or negative quantity are skipped; a quantity above the remaining amount
// rejects the whole call. Ledger appends, line increments and the status
// update commit in one transaction, so a failure leaves no mixed state.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	orderID, quantities, actorID := input.OrderID, input.Quantities, input.ActorID
	order, lines, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return ReceiveResult{}, err
	}
	if !order.Status.CanReceive() {
		return ReceiveResult{}, fmt.Errorf("order %s is %s: %w", order.Number, order.Status, shared.ErrInvalidState)
	}

	byID := make(map[uuid.UUID]*Line, len(lines))
	for i := range lines {
		byID[lines[i].ID] = &lines[i]
	}

	applied := make(map[uuid.UUID]int64)
	for lineID, qty := range quantities {
		if qty <= 0 {
			continue // skipped, not an error
		}
		line, ok := byID[lineID]
		if !ok {
			return ReceiveResult{}, shared.NewValidationError("lines", fmt.Sprintf("line %s does not belong to order", lineID))
		}
		if err := recon.ValidateReceiveQuantity(qty, line.QtyOrdered, line.QtyReceived); err != nil {
			return ReceiveResult{}, &shared.QuantityExceededError{LineID: lineID, Requested: qty, Available: line.Remaining()}
		}
		applied[lineID] = qty
	}
	if len(applied) == 0 {
		return ReceiveResult{}, shared.NewValidationError("lines", "nothing to receive")
	}

	key := "PO_RECEIVE:" + input.IdempotencyKey
	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "orders"); err != nil {
			return ReceiveResult{}, err
		}
		insertedKey = true
	}

	newStatus := order.Status
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poster := tx.Ledger()
		for lineID, qty := range applied {
			line := byID[lineID]
			_, err := poster.Post(ctx, ledger.Entry{
				ProductID:  line.ProductID,
				VariantID:  line.VariantID,
				LocationID: order.LocationID,
				Qty:        qty,
				Type:       ledger.EntryTypeReceipt,
				RefType:    ledger.RefOrderLine,
				RefID:      lineID,
				Note:       fmt.Sprintf("receipt for %s", order.Number),
				ActorID:    actorID,
			})
			if err != nil {
				return err
			}
			line.QtyReceived += qty
			if err := tx.UpdateLineReceived(ctx, lineID, line.QtyReceived); err != nil {
				return err
			}
		}
		newStatus = deriveStatus(order.Status, lines)
		return tx.UpdateStatus(ctx, order.ID, newStatus, order.Version)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return ReceiveResult{}, err
	}

	order.Status = newStatus
	order.Version++
	for lineID := range applied {
		line := byID[lineID]
		s.ledgerInvalidate(ctx, line.ProductID, line.VariantID, order.LocationID)
	}
	if s.ledger != nil {
		s.ledger.RecordPosted(ledger.EntryTypeReceipt, len(applied))
	}
	s.recordAudit(ctx, actorID, "PO_RECEIVE", order.ID, map[string]any{"number": order.Number, "lines": len(applied), "status": string(newStatus)})
	return ReceiveResult{Order: order, Lines: lines, Applied: applied}, nil
}

// Cancel marks the order cancelled. Ledger entries from earlier receipts
// stay in place; cancellation is a terminal status, not a reversal.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, actorID int64) (PurchaseOrder, error) {
	order, _, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !order.Status.CanCancel() {
		return PurchaseOrder{}, fmt.Errorf("order %s is %s: %w", order.Number, order.Status, shared.ErrInvalidState)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, order.ID, StatusCancelled, order.Version)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Status = StatusCancelled
	order.Version++
	s.recordAudit(ctx, actorID, "PO_CANCEL", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// Get returns the order with its lines.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (PurchaseOrder, []Line, error) {
	return s.repo.Get(ctx, orderID)
}

// List returns orders matching the filters.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset, filters)
}

// deriveStatus maps the reconciliation outcome onto the status enum.
func deriveStatus(prior Status, lines []Line) Status {
	quantities := make([]recon.LineQuantities, 0, len(lines))
	for _, line := range lines {
		quantities = append(quantities, recon.LineQuantities{Ordered: line.QtyOrdered, Received: line.QtyReceived})
	}
	switch recon.DeriveOrderOutcome(quantities) {
	case recon.OutcomeComplete:
		return StatusReceived
	case recon.OutcomePartial:
		return StatusPartiallyReceived
	default:
		return prior
	}
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
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: entityID.String(), Meta: meta})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
