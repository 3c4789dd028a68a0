package courier

import (
	"errors"
	"fmt"
)

// Error is a failed courier call. Transient errors (network faults, 5xx,
// 429) are retried by the dispatcher; everything else fails immediately.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("courier: %s (status %d)", e.Message, e.StatusCode)
	}
	return "courier: " + e.Message
}

// IsTransient reports whether err is a retryable courier failure.
func IsTransient(err error) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Transient
	}
	return false
}

func transientf(statusCode int, format string, args ...any) *Error {
	return &Error{StatusCode: statusCode, Message: fmt.Sprintf(format, args...), Transient: true}
}

func permanentf(statusCode int, format string, args ...any) *Error {
	return &Error{StatusCode: statusCode, Message: fmt.Sprintf(format, args...)}
}
