package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below unwraps to one of these so callers
// can classify with errors.Is and inspect details with errors.As.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidReference  = errors.New("invalid reference")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLockTimeout       = errors.New("lock wait timeout")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
)

// ValidationError reports malformed or missing input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidReferenceError reports a referenced row that does not exist
type InvalidReferenceError struct {
	Field string
	ID    int64
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid %s: %d", e.Field, e.ID)
}

func (e *InvalidReferenceError) Unwrap() error { return ErrInvalidReference }

// NotFoundError reports a missing target entity
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError identifies the variant that could not cover a confirmation
type InsufficientStockError struct {
	VariantID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: available=%d, requested=%d",
		e.VariantID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransientLockTimeoutError means the outcome is unknown and the call may be retried
type TransientLockTimeoutError struct {
	Op  string
	Err error
}

func (e *TransientLockTimeoutError) Error() string {
	return fmt.Sprintf("%s: lock wait timeout: %v", e.Op, e.Err)
}

func (e *TransientLockTimeoutError) Unwrap() []error { return []error{ErrLockTimeout, e.Err} }

// InvalidTransitionError reports a status change the lifecycle does not allow
type InvalidTransitionError struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
