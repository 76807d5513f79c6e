package domain

import "errors"

// Typed store failures. Repositories return these wrapped with context;
// the HTTP layer maps them to the external error contract.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a unique-key violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput indicates the caller supplied an invalid value.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTransient indicates a temporary infrastructure failure. Callers may retry.
	ErrTransient = errors.New("temporarily unavailable")
	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrBackpressure indicates the work queue is full. Callers must retry.
	ErrBackpressure = errors.New("backpressure")
)

// IsRetryable reports whether an error maps to a retryable external failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrBackpressure)
}
