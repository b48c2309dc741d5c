package manager

import "errors"

var (
	// ErrInvalidTransition is returned by Cancel when the operation is not
	// in a cancellable state.
	ErrInvalidTransition = errors.New("manager: invalid status transition")
	// ErrUnknownOperationType records that no executor was registered for
	// the operation's type. Always fatal: it signals a wiring defect, not a
	// transient condition.
	ErrUnknownOperationType = errors.New("unknown operation type")
	// ErrMaxRetriesExceeded records that the retry budget is spent.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
