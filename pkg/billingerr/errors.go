// Package billingerr defines the error taxonomy shared by the billing packages.
//
// Every typed error unwraps to one of three sentinels so that callers, notably
// the HTTP layer, can classify failures with errors.Is without knowing the
// concrete type.
package billingerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request that contradicts current state.
	ErrConflict = errors.New("conflict")
)

// ValidationError carries the specific reason an input was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation builds a ValidationError from a format string.
func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing resource by kind and identifier.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// ConflictError carries the reason a state change was refused.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflict builds a ConflictError.
func NewConflict(format string, args ...interface{}) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is, or wraps, a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is, or wraps, a conflict error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// Reason extracts the user-facing reason from a typed error, falling back to
// err.Error().
func Reason(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Reason
	}
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Reason
	}
	return err.Error()
}
