package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations. Check with errors.Is.
var (
	// ErrNotFound indicates the requested memory id does not resolve.
	ErrNotFound = errors.New("memory not found")

	// ErrStorageUnavailable indicates the backing database could not be
	// opened or is corrupt. Never swallowed: proceeding on a broken
	// store risks irreversible data loss.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError reports a schema invariant violation (empty summary,
// negative level, mixed-level synthesis parents, ...). The operation
// that returns it has made no writes.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
