package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EntryType enumerates the sources of inventory movements.
type EntryType string

const (
	// EntryTypeReceipt is an inbound movement from a purchase-order receipt.
	EntryTypeReceipt EntryType = "RECEIPT"
	// EntryTypeTransferOut is the debit half of a stock transfer.
	EntryTypeTransferOut EntryType = "TRANSFER_OUT"
	// EntryTypeTransferIn is the credit half of a stock transfer.
	EntryTypeTransferIn EntryType = "TRANSFER_IN"
	// EntryTypeAdjustment is a manual correction.
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
)

// Reference types correlating an entry with its source event.
const (
	RefOrderLine    = "purchase_order_line"
	RefTransferLine = "stock_transfer_line"
	RefManual       = "manual"
)

// Entry is one immutable inventory movement: a signed quantity delta for a
// product at a location. On-hand for (product, location) is the sum of its
// entries; the stock_balances row is a materialized counter maintained in
// the same transaction as every append.
type Entry struct {
	ID         int64
	ProductID  int64
	VariantID  int64 // 0 for the base product
	LocationID int64
	Qty        int64
	Type       EntryType
	RefType    string
	RefID      uuid.UUID
	Note       string
	ActorID    int64
	PostedAt   time.Time
}

// Balance is the materialized on-hand counter per (location, product, variant).
type Balance struct {
	LocationID int64
	ProductID  int64
	VariantID  int64
	Qty        int64
	UpdatedAt  time.Time
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	LocationID int64
	ProductID  int64
	VariantID  int64
	Qty        int64 // positive or negative, never zero
	Note       string
	ActorID    int64
	Ref        string // optional client-supplied idempotency key
}

// HistoryFilter scopes stock card listings.
type HistoryFilter struct {
	LocationID int64
	ProductID  int64
	VariantID  int64
	From       time.Time
	To         time.Time
	Limit      int
}

var (
	// ErrInsufficientStock triggered when a movement would drive on-hand negative.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInvalidQuantity indicates a zero quantity delta.
	ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
	// ErrInvalidEntry indicates a missing product or location reference.
	ErrInvalidEntry = errors.New("ledger: product and location required")
)
