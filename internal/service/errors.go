package service

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors. Callers distinguish them with errors.Is.
var (
	ErrItemNotFound       = errors.New("item not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrVoucherNotFound    = errors.New("voucher not found")
	ErrInvalidVoucher     = errors.New("voucher is inactive or expired")
	ErrInvalidQuantity    = errors.New("quantity must be a positive integer")
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrDuplicateRequest   = errors.New("duplicate request")
	ErrVoucherExists      = errors.New("voucher code already exists")

	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("storage failure")
)

// InsufficientStockError reports how much stock was available.
type InsufficientStockError struct {
	ItemID    int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ValidationError lists the offending fields and why each was rejected.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// StorageError wraps a persistence failure: a driver error, a deadline hit
// inside the transaction, or write conflicts that outlasted the retry budget.
// Nothing was committed when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// Timeout reports whether the unit of work ran past its deadline.
func (e *StorageError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// domainErrors are returned as-is from a failed unit of work.
var domainErrors = []error{
	ErrItemNotFound,
	ErrInsufficientStock,
	ErrVoucherNotFound,
	ErrInvalidVoucher,
	ErrInvalidQuantity,
	ErrValidation,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// asStorageError passes domain errors through and wraps everything else.
func asStorageError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
