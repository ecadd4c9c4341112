package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrCartItemNotFound  = fmt.Errorf("cart item %w", ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("product %w", ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("order %w", ErrNotFound)
	ErrHandleNotFound    = fmt.Errorf("order handle %w", ErrNotFound)
	ErrIllegalTransition = errors.New("illegal transition of checkout attempt state")

	ErrNoItemsSelected = &ValidationError{Field: "items", Message: "no items selected"}
	ErrCartChanged     = &ValidationError{Field: "items", Message: "cart changed since checkout started, reload and retry"}
)

// ValidationError is a client-fixable request problem. Nothing was applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientStockError names the item that could not be satisfied and what
// is currently available.
type InsufficientStockError struct {
	Item      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %s: requested %d, available %d", e.Item, e.Requested, e.Available)
}

// ConcurrencyFailure wraps lock timeouts and store conflicts. The commit did
// not apply; the whole checkout may be retried.
type ConcurrencyFailure struct {
	Err error
}

func (e *ConcurrencyFailure) Error() string {
	return fmt.Sprintf("concurrency failure: %v", e.Err)
}

func (e *ConcurrencyFailure) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsInsufficientStock(err error) bool {
	var s *InsufficientStockError
	return errors.As(err, &s)
}

func IsConcurrencyFailure(err error) bool {
	var c *ConcurrencyFailure
	return errors.As(err, &c)
}
