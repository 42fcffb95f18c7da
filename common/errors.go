package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrPolicyRejected = errors.New("rejected by policy")
	ErrTransient      = errors.New("transient failure")
	ErrNotFound       = errors.New("not found")
	// ErrIncompleteSettlement marks a split whose ledger entries are only
	// partly on the books. Retrying cannot finish it.
	ErrIncompleteSettlement = errors.New("incomplete settlement")
)

// ValidationError is returned before any mutation when the input is malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError covers duplicates and illegal state transitions.
type ConflictError struct {
	Resource string
	Reason   string
}

func NewConflictError(resource, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Resource: resource, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// PolicyRejection is returned when a commission falls below the minimum
// margin of an auto-reject rule. It carries the shortfall for manual handling.
type PolicyRejection struct {
	Reason           string
	RuleID           string
	CommissionAmount decimal.Decimal
	MinimumRequired  decimal.Decimal
	Shortfall        decimal.Decimal
}

func (e *PolicyRejection) Error() string {
	return fmt.Sprintf("%s: commission %s below minimum %s (shortfall %s)",
		e.Reason, e.CommissionAmount.StringFixed(2), e.MinimumRequired.StringFixed(2), e.Shortfall.StringFixed(2))
}

func (e *PolicyRejection) Unwrap() error { return ErrPolicyRejected }

// TransientError wraps storage or delivery failures that are retried on the
// next scheduled cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPolicyRejected) ||
		errors.Is(err, ErrNotFound)
}

// IsUniqueViolation reports whether err was raised by a unique index,
// for PostgreSQL (SQLSTATE 23505) as well as SQLite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
