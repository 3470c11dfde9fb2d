package memory

import "errors"

// Sentinel error kinds shared across backends. Implementations wrap these
// with fmt.Errorf("...: %w", Err...) so callers can classify failures with
// errors.Is without depending on backend-specific error types.
var (
	// ErrInvalidInput marks caller mistakes (empty text, bad date format,
	// unknown sort key). Retrying the same call cannot succeed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIntegrity marks a constraint violation, most commonly a duplicate
	// content hash on insert.
	ErrIntegrity = errors.New("integrity violation")

	// ErrTransient marks failures that a retry may resolve: timeouts,
	// connection resets, temporarily unavailable backends.
	ErrTransient = errors.New("transient failure")

	// ErrBackend marks persistent backend failures that are not the
	// caller's fault and that a retry is unlikely to resolve.
	ErrBackend = errors.New("backend failure")
)
