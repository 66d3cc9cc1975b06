package pending

import "errors"

// Domain errors for the pending package.
var (
	// ErrNoDevices is returned when Queue is called with an empty device set.
	ErrNoDevices = errors.New("pending: no target devices")

	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("pending: command not found")

	// ErrNotWaiting is returned when a WAITING->SENT transition finds the
	// command already sent (or gone).
	ErrNotWaiting = errors.New("pending: command not in WAITING state")
)
