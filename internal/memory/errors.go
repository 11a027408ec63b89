package memory

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is returned when an operation runs without an
// initialized persistence layer.
var ErrStoreUnavailable = errors.New("memory: persistent store unavailable")

// ErrPatternNotFound is returned when a usage update targets a pattern
// id that does not exist.
var ErrPatternNotFound = errors.New("memory: reasoning pattern not found")

// ValidationError flags a malformed argument or option combination.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory: invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
