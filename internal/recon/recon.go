// Package recon holds the stateless reconciliation rules shared by the
// purchase-order and stock-transfer engines: deciding aggregate fulfillment
// state from line quantities, rejecting invalid quantity inputs, and
// formatting human-readable document numbers.
package recon

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/stockpoint/stockpoint/internal/shared"
)

// LineQuantities carries the ordered/received pair of one order line.
type LineQuantities struct {
	Ordered  int64
	Received int64
}

// LineFullyReceived reports whether a line has been received in full.
func LineFullyReceived(ordered, received int64) bool {
	return received == ordered
}

// OrderOutcome is the aggregate fulfillment state derived from lines.
type OrderOutcome int

const (
	// OutcomeUnchanged means no line has been received yet.
	OutcomeUnchanged OrderOutcome = iota
	// OutcomePartial means some but not all quantities were received.
	OutcomePartial
	// OutcomeComplete means every line is fully received.
	OutcomeComplete
)

// DeriveOrderOutcome decides the aggregate state from line quantities.
// Complete iff every line satisfies received == ordered; partial when any
// receipt has happened; unchanged otherwise.
func DeriveOrderOutcome(lines []LineQuantities) OrderOutcome {
	if len(lines) == 0 {
		return OutcomeUnchanged
	}
	complete := true
	touched := false
	for _, line := range lines {
		if !LineFullyReceived(line.Ordered, line.Received) {
			complete = false
		}
		if line.Received > 0 {
			touched = true
		}
	}
	switch {
	case complete:
		return OutcomeComplete
	case touched:
		return OutcomePartial
	default:
		return OutcomeUnchanged
	}
}

// ValidateReceiveQuantity checks one receive request against the remaining
// open quantity. Quantities over the remainder are rejected, not clamped.
func ValidateReceiveQuantity(requested, ordered, received int64) error {
	if requested <= 0 {
		return shared.NewValidationError("quantity", "must be positive")
	}
	if received+requested > ordered {
		return fmt.Errorf("requested %d exceeds remaining %d", requested, ordered-received)
	}
	return nil
}

// ValidateTransferQuantity checks a transfer line against current on-hand.
func ValidateTransferQuantity(requested, onHand int64) error {
	if requested <= 0 {
		return shared.NewValidationError("quantity", "must be positive")
	}
	if requested > onHand {
		return fmt.Errorf("requested %d exceeds on-hand %d", requested, onHand)
	}
	return nil
}

// SequenceNumber formats a document number as {PREFIX}-{YYYYMMDD}-{NNN}.
// The 3-digit suffix makes collisions possible; the number is a display
// label backed by a unique constraint and regenerated on conflict, never a
// primary key.
func SequenceNumber(prefix string, date time.Time, n int) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, date.Format("20060102"), n%1000)
}

// NumberGenerator produces sequence numbers with a random suffix.
type NumberGenerator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewNumberGenerator seeds a generator. now may be nil for wall-clock time.
func NewNumberGenerator(seed int64, now func() time.Time) *NumberGenerator {
	if now == nil {
		now = time.Now
	}
	return &NumberGenerator{rng: rand.New(rand.NewSource(seed)), now: now}
}

// Next returns a fresh number for the prefix.
func (g *NumberGenerator) Next(prefix string) string {
	return SequenceNumber(prefix, g.now().UTC(), g.rng.Intn(1000))
}
