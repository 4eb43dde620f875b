package dispute

import "errors"

// Error kinds surfaced by the engine. Specific failures wrap one of these so
// callers can branch with errors.Is and still show the detailed message.
var (
	ErrValidation    = errors.New("dispute: validation failed")
	ErrForbidden     = errors.New("dispute: forbidden")
	ErrInvalidState  = errors.New("dispute: invalid state for action")
	ErrWindowExpired = errors.New("dispute: response window expired")
	ErrNotFound      = errors.New("dispute: not found")
)
