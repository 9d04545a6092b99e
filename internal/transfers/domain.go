package transfers

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transfer lifecycle statuses. PENDING becomes COMPLETED through one
// all-or-nothing completion; there is no partially-completed state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// CanComplete reports whether completion is allowed.
func (s Status) CanComplete() bool {
	return s == StatusPending
}

// StockTransfer is the transfer header. DestinationLabel is an optional
// free-text sub-location hint (shelf, bin) at the destination.
type StockTransfer struct {
	ID               uuid.UUID
	Number           string
	OriginID         int64
	DestinationID    int64
	DestinationLabel string
	Status           Status
	Note             string
	CreatedBy        int64
	Version          int64
	CreatedAt        time.Time
	CompletedAt      time.Time
}

// Line is one product row of a transfer. UnitPrice is carried for
// valuation only, it never settles anything.
type Line struct {
	ID          uuid.UUID
	TransferID  uuid.UUID
	ProductID   int64
	VariantID   int64
	ProductName string
	Position    int
	Qty         int64
	UnitPrice   float64
	Note        string
}

// CompletionError reports a transfer that was created but whose chained
// completion failed. The transfer stays PENDING with zero ledger entries;
// Complete can be retried on its own.
type CompletionError struct {
	Transfer StockTransfer
	Err      error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("transfer %s created but not completed: %v", e.Transfer.Number, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// ListFilters narrows transfer listings.
type ListFilters struct {
	Status   string
	OriginID int64
	Search   string
	SortBy   string
	SortDir  string
}

// ListItem is the listing projection of a transfer.
type ListItem struct {
	ID            uuid.UUID
	Number        string
	OriginID      int64
	DestinationID int64
	Status        Status
	CreatedAt     time.Time
	CompletedAt   time.Time
}
