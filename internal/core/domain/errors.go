package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderItemNotFound   = errors.New("order item not found")
	ErrStockUnitNotFound   = errors.New("stock unit not found")
	ErrConcurrencyConflict = errors.New("order state changed")
	ErrInvalidInput        = errors.New("invalid input")
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// InsufficientStockError identifies the line whose reservation could not be made.
type InsufficientStockError struct {
	Line      int
	ProductID string
	Size      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for line %d (%s/%s): requested %d, available %d",
		e.Line, e.ProductID, e.Size, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Deficit is how many units the shopper has to drop for the line to fit.
func (e *InsufficientStockError) Deficit() int {
	return e.Requested - e.Available
}

// TransitionError reports a lifecycle action whose guard no longer holds.
type TransitionError struct {
	OrderID string
	Action  string
	Current OrderStatus
	// Processed is the order's inventoryProcessed flag at the time of the check.
	Processed bool
}

func (e *TransitionError) Error() string {
	if e.Current == OrderStatusDeclined || (e.Action == ActionRevert && !e.Processed) {
		return fmt.Sprintf("cannot %s order %s: order already declined", e.Action, e.OrderID)
	}
	return fmt.Sprintf("cannot %s order %s: order is %s", e.Action, e.OrderID, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrConcurrencyConflict }
