package command

import (
	"errors"
	"fmt"
)

// CommunicationError is a network or protocol failure talking to a remote
// capability provider. StatusCode carries the protocol status when one
// exists (an HTTP status, an MQTT reason code), zero otherwise.
type CommunicationError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *CommunicationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("command: communication failure in %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("command: communication failure in %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// ControllerError is a local or domain failure: an unknown target system,
// a command timeout, an unparseable payload, invalid configuration.
type ControllerError struct {
	Reason string
	Err    error
}

func (e *ControllerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command: %s: %v", e.Reason, e.Err)
	}
	return "command: " + e.Reason
}

func (e *ControllerError) Unwrap() error { return e.Err }

// IsCommunication reports whether err is (or wraps) a CommunicationError.
func IsCommunication(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce)
}
