package relay

import "errors"

// Domain errors for the relay package.
var (
	// ErrRelayNotFound is returned when a relay ID does not exist.
	ErrRelayNotFound = errors.New("relay: not found")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("relay: device not found")

	// ErrInvalidToken is returned when a bearer token fails validation.
	ErrInvalidToken = errors.New("relay: invalid token")
)
