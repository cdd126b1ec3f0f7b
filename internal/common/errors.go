// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Repository errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError indicates caller-correctable bad input: missing fields,
// invalid balances, or an id that does not reference anything. Never
// retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a named field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError indicates an id that is invalid within the scope it was
// used in (wrong reconciliation, wrong account, or simply absent).
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyMatchedError indicates a manual match attempt against a side that
// is already consumed by another match. The caller should refetch state
// and retry the user action.
type AlreadyMatchedError struct {
	Side string // "bank" or "ledger"
	ID   string
}

func (e *AlreadyMatchedError) Error() string {
	return fmt.Sprintf("%s transaction %s is already matched", e.Side, e.ID)
}

// InvalidStateError indicates a lifecycle or matching operation attempted
// outside its allowed state. Fatal to the request, not retried.
type InvalidStateError struct {
	Operation string
	Status    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: reconciliation is %s", e.Operation, e.Status)
}

// UnbalancedError is the expected business-rule stop raised by Complete
// when the reconciliation difference is outside tolerance. It carries the
// numeric difference for display; it is not a system error.
type UnbalancedError struct {
	Difference float64
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("reconciliation is not balanced: difference %.2f", e.Difference)
}

// ConcurrencyConflictError indicates a lost race on shared reconciliation
// state (e.g. a ledger transaction claimed by a concurrent match). The
// failed operation is safe to re-run.
type ConcurrencyConflictError struct {
	Entity string
	ID     string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s", e.Entity, e.ID)
}

// RepositoryError wraps persistence-layer failures so they stay distinct
// from business-rule errors.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError wraps err as a repository failure for operation op.
func NewRepositoryError(op string, err error) error {
	return &RepositoryError{Op: op, Err: err}
}

// IsRetryable determines if an error should trigger a retry. Only
// concurrency conflicts are retryable; business-rule and validation
// failures must surface to the caller.
func IsRetryable(err error) bool {
	var conflict *ConcurrencyConflictError
	return errors.As(err, &conflict)
}
