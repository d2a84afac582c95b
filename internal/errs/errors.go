package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound  = errors.New("not_found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid")
	// ErrTransient marks infrastructure failures (lock timeout, lost connection)
	// that are safe for the caller to retry.
	ErrTransient = errors.New("transient")
)

// reasoned carries a user-facing message while still matching one of the
// sentinels above through errors.Is.
type reasoned struct {
	msg  string
	kind error
}

func (e *reasoned) Error() string { return e.msg }
func (e *reasoned) Unwrap() error { return e.kind }

// NotFound returns an error matching ErrNotFound with a display message.
func NotFound(msg string) error { return &reasoned{msg: msg, kind: ErrNotFound} }

// Conflict returns an error matching ErrConflict with a display message.
func Conflict(msg string) error { return &reasoned{msg: msg, kind: ErrConflict} }

// Forbidden returns an error matching ErrForbidden with a display message.
func Forbidden(msg string) error { return &reasoned{msg: msg, kind: ErrForbidden} }

// Transient returns an error matching ErrTransient with a display message.
func Transient(msg string) error { return &reasoned{msg: msg, kind: ErrTransient} }
