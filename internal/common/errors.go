// Package common defines shared constants, sentinel errors and small helpers
// used across pkgindex layers. Callers should use errors.Is / errors.As to
// match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Storage-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when a write would overwrite an immutable
	// release file on a non-volatile index.
	ErrConflict = errors.New("conflict")

	// ErrorValidation is the sentinel every *ValidationError unwraps to.
	ErrorValidation = errors.New("validation error")

	// ErrContractViolation marks caller bugs: unknown index type, write
	// operations on a read-only mirror and the like.
	ErrContractViolation = errors.New("contract violation")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ValidationError carries every violation found while validating a request,
// not just the first one.
type ValidationError struct {
	Messages []string
}

// NewValidationError returns nil when messages is empty, so callers can do
//
//	if err := common.NewValidationError(msgs); err != nil { return err }
func NewValidationError(messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	return &ValidationError{Messages: messages}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", strings.Join(e.Messages, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrorValidation
}

// NotFoundError wraps ErrorNotFound with the kind and name of what is missing.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrorNotFound
}
