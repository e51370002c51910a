// Package apperr holds the sentinel errors shared by every layer. Callers
// classify failures with errors.Is; messages carry the detail.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrIO         = errors.New("io failure")
)

// NotFound returns an error wrapping ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns an error wrapping ErrConflict.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Invalid returns an error wrapping ErrValidation.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IO wraps err as an ErrIO while keeping err itself reachable through errors.Is.
func IO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
