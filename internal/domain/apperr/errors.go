package apperr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers branch on these with errors.Is instead of
// string matching.
var (
	ErrInvalidFileFormat       = errors.New("invalid file format")
	ErrFileTooLarge            = errors.New("file too large")
	ErrExtractionFailed        = errors.New("extraction failed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrNotFound                = errors.New("not found")
	ErrValidation              = errors.New("validation error")
	ErrDuplicateInvoice        = errors.New("duplicate invoice")
)

// Wrap preserves the semantic kind while adding operation context.
func Wrap(kind error, operation string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", operation, kind)
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// New returns an error of the given kind with a human-readable message.
func New(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// IsKind reports whether err carries the given kind.
func IsKind(err, kind error) bool {
	return errors.Is(err, kind)
}
