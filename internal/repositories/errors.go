package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates repository failure categories used by services.
type ErrorKind string

const (
	// KindUnknown represents an unspecified failure.
	KindUnknown ErrorKind = "unknown"
	// KindNotFound indicates the requested record does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindConflict indicates a uniqueness or concurrent-update conflict.
	KindConflict ErrorKind = "conflict"
	// KindInsufficientStock indicates a conditional stock decrement found
	// fewer units than requested.
	KindInsufficientStock ErrorKind = "insufficient_stock"
	// KindUnavailable indicates the backing store could not be reached.
	KindUnavailable ErrorKind = "unavailable"
)

// RepositoryError categorises low-level persistence failures so services can
// translate them into domain sentinels without knowing the backing store.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsInsufficientStock() bool
	IsUnavailable() bool
}

// StoreError is the concrete RepositoryError produced by repository
// implementations.
type StoreError struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Kind == KindNotFound }

// IsConflict reports whether a uniqueness or concurrency conflict occurred.
func (e *StoreError) IsConflict() bool { return e != nil && e.Kind == KindConflict }

// IsInsufficientStock reports whether a stock decrement was refused.
func (e *StoreError) IsInsufficientStock() bool {
	return e != nil && e.Kind == KindInsufficientStock
}

// IsUnavailable reports whether the store could not be reached.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NewError constructs a typed repository error.
func NewError(op string, kind ErrorKind, message string, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Message: message, Err: err}
}

// AsRepositoryError extracts a RepositoryError from an error chain.
func AsRepositoryError(err error) (RepositoryError, bool) {
	var repoErr *StoreError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}
