package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by messaging operations attempted while the
	// instance is not in the connected state.
	ErrNotConnected = errors.New("whatsapp instance is not connected")

	// ErrNotFound is returned when an operation needs a live session artifact
	// that does not exist, such as a pairing code that is not pending.
	ErrNotFound = errors.New("no live session for this instance")

	// ErrLimitExceeded is returned when creating an instance would exceed the
	// configured maximum concurrent instance count.
	ErrLimitExceeded = errors.New("maximum concurrent instance count reached")
)

// OperationError wraps a failure raised by the in-page automation bridge.
// It covers unregistered recipients, missing message ids and a bridge that
// never finished loading; the underlying message is preserved for the caller.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("whatsapp %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func operationFailed(op string, err error) error {
	return &OperationError{Op: op, Err: err}
}
