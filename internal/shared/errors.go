package shared

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrVersionConflict indicates a concurrent mutation won the race.
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError reports malformed or missing input. It is always raised
// before any persistence happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// QuantityExceededError reports a receive or transfer quantity above the
// remaining or available amount for one line.
type QuantityExceededError struct {
	LineID    uuid.UUID
	Requested int64
	Available int64
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("quantity exceeded: line %s requested %d, available %d", e.LineID, e.Requested, e.Available)
}

// PersistenceError wraps an underlying storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DependencyError wraps a failure from a consumed boundary such as the
// catalog or location directory.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
