package orders

import (
	"time"

	"github.com/google/uuid"
)

// Purchase order lifecycle statuses. Creation lands directly in ORDERED:
// there is no separate approval step between drafting and ordering, DRAFT
// exists for rows imported from systems that have one. RECEIVED and
// CANCELLED are terminal.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusOrdered           Status = "ORDERED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusReceived          Status = "RECEIVED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal reports whether no further transition is defined.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// CanReceive reports whether receipt operations are allowed.
func (s Status) CanReceive() bool {
	return s == StatusOrdered || s == StatusPartiallyReceived
}

// CanCancel reports whether the order may still be cancelled.
func (s Status) CanCancel() bool {
	return !s.Terminal()
}

// PurchaseOrder is the order header. TotalAmount is committed at creation
// time from the ordered quantities and is not recomputed on receipt.
// Version backs optimistic concurrency control: every status or quantity
// mutation checks and increments it.
type PurchaseOrder struct {
	ID           uuid.UUID
	Number       string
	Vendor       string
	LocationID   int64
	Status       Status
	OrderDate    time.Time
	ExpectedDate time.Time
	TotalAmount  float64
	Note         string
	CreatedBy    int64
	Version      int64
	CreatedAt    time.Time
}

// Line is one product row of an order. QtyReceived only ever increases,
// through receipt operations, and never beyond QtyOrdered.
type Line struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   int64
	VariantID   int64
	ProductName string
	Position    int
	QtyOrdered  int64
	QtyReceived int64
	UnitPrice   float64
	TotalPrice  float64
	Note        string
}

// Remaining returns the open quantity still to be received.
func (l Line) Remaining() int64 {
	return l.QtyOrdered - l.QtyReceived
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status  string
	Search  string
	SortBy  string
	SortDir string
}

// ListItem is the listing projection of an order.
type ListItem struct {
	ID           uuid.UUID
	Number       string
	Vendor       string
	LocationID   int64
	Status       Status
	OrderDate    time.Time
	ExpectedDate time.Time
	TotalAmount  float64
	CreatedAt    time.Time
}

// ReceiveResult reports what one receive call changed.
type ReceiveResult struct {
	Order   PurchaseOrder
	Lines   []Line
	Applied map[uuid.UUID]int64
}
