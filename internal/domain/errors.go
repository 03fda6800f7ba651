package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication      = errors.New("authentication failed")
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrForbidden           = errors.New("forbidden")
	ErrInvoiceNotPublished = errors.New("invoice not published")
	ErrLockConflict        = errors.New("payout already in progress or settled")
)

// ProviderError wraps a failed call to an external provider.
// Permanent errors (4xx, rejected account data) are never retried.
type ProviderError struct {
	Op         string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s provider error (status %d): %v", e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s provider error: %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func Transient(op string, status int, err error) error {
	return &ProviderError{Op: op, StatusCode: status, Err: err}
}

func Permanent(op string, status int, err error) error {
	return &ProviderError{Op: op, StatusCode: status, Permanent: true, Err: err}
}

// IsPermanent reports whether err carries a permanent ProviderError.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent
}

// IsTransient reports whether err carries a retryable ProviderError.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && !pe.Permanent
}
