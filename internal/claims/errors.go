package claims

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups for a key the server does not know.
	ErrNotFound = errors.New("conversation not found")

	// ErrStaleOperation marks a confirmation or rejection that arrived after
	// a push superseded the optimistic entry it was issued for. Callers drop
	// it silently.
	ErrStaleOperation = errors.New("stale operation")

	// ErrUnknownEvent is returned by ApplyPush for push kinds this client does
	// not understand. The push is ignored.
	ErrUnknownEvent = errors.New("unknown push kind")
)

// DuplicateClaimError is returned when another agent already owns the key.
type DuplicateClaimError struct {
	Key           Key
	ClaimedUserID string
}

func (e *DuplicateClaimError) Error() string {
	if e.ClaimedUserID == "" {
		return fmt.Sprintf("conversation %s is already claimed", e.Key)
	}
	return fmt.Sprintf("conversation %s is already claimed by %s", e.Key, e.ClaimedUserID)
}

// TransientError wraps a failed gateway call the agent may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsDuplicate reports whether err is a DuplicateClaimError and returns it.
func IsDuplicate(err error) (*DuplicateClaimError, bool) {
	var dup *DuplicateClaimError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
