package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrStoreUnavailable   = fmt.Errorf("message store unavailable")
	ErrEmptyBody          = fmt.Errorf("message body is empty")
	ErrMalformedPayload   = fmt.Errorf("malformed payload")
	ErrNotJoined          = fmt.Errorf("connection has not joined")
	ErrInvalidToken       = fmt.Errorf("invalid or expired token")
	ErrIdentityMismatch   = fmt.Errorf("identity does not match joined user")
	ErrUnknownStoreDriver = fmt.Errorf("unknown store driver")
	ErrSinkClosed         = fmt.Errorf("sink closed")
)

// StoreUnavailable wraps a backend failure so callers can match ErrStoreUnavailable.
func StoreUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
