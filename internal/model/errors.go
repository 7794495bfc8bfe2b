package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrBusinessRule     = errors.New("business rule violation")
	ErrEntityNotFound   = errors.New("entity not found")
	ErrConcurrency      = errors.New("concurrent modification")
)

// DomainError carries the operation that failed alongside its kind.
type DomainError struct {
	Kind error
	Op   string
	Msg  string
}

func (e *DomainError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

// Unwrap exposes the kind. Business-rule errors also match ErrValidation:
// completing an aggregate without content is rejected input as well as a
// broken rule.
func (e *DomainError) Unwrap() []error {
	if e.Kind == ErrBusinessRule {
		return []error{ErrBusinessRule, ErrValidation}
	}
	return []error{e.Kind}
}

// IsDomainError reports whether err belongs to the model's error hierarchy.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

func validationError(op, format string, args ...any) error {
	return &DomainError{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func invalidOperation(op, format string, args ...any) error {
	return &DomainError{Kind: ErrInvalidOperation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func businessRule(op, format string, args ...any) error {
	return &DomainError{Kind: ErrBusinessRule, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds the error stores return for a missing aggregate.
func NotFound(entity, id string) error {
	return &DomainError{Kind: ErrEntityNotFound, Op: entity, Msg: fmt.Sprintf("id %q", id)}
}

// Conflict builds the error stores return when a write loses an
// optimistic-concurrency race.
func Conflict(entity, id string, expected int) error {
	return &DomainError{Kind: ErrConcurrency, Op: entity, Msg: fmt.Sprintf("id %q: expected version %d", id, expected)}
}
