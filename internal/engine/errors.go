package engine

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers of Advance. They map 1:1 onto the
// error.kind field of the trigger-interface response envelope.
const (
	KindSessionNotFound       = "session_not_found"
	KindUnresolvedPlaceholder = "unresolved_placeholder"
	KindServiceUnavailable    = "service_unavailable"
	KindMalformedResult       = "malformed_result"
	KindStaleSession          = "stale_session"
)

// Error is a classified engine failure. Callers branch on Kind, never on
// the message text.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a classified error with a formatted message.
func NewError(kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, or "" for unclassified errors.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ErrNotFound is returned by persistence implementations when a session or
// phase row does not exist.
var ErrNotFound = errors.New("not found")
