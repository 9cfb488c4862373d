package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned by a store when a write lost a race on the unique attempt/round key.
	ErrConflict = errors.New("attempt ledger write conflict")
	// ErrTransient is returned when conflict retries are exhausted; the caller may retry.
	ErrTransient = errors.New("attempt ledger busy, retry later")
	// ErrStorageUnavailable indicates the record store could not be reached.
	ErrStorageUnavailable = errors.New("record store unavailable")
	// ErrNotFound indicates a referenced user or entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller's scope does not allow the request.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports malformed or out-of-domain input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetryable reports whether the caller may safely retry the operation that produced err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrStorageUnavailable)
}
