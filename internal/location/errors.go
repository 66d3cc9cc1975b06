package location

import "errors"

// Domain errors for the location package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, location.ErrPairingFailed) {
//	    // reject the pairing attempt
//	}
var (
	// ErrLocationNotFound is returned when a location ID does not exist.
	ErrLocationNotFound = errors.New("location: not found")

	// ErrAlreadyPaired is returned when issuing a code for a paired location.
	ErrAlreadyPaired = errors.New("location: already paired")

	// ErrPairingFailed is returned when a pairing attempt is rejected: the
	// code does not match, has expired, or the location is already paired.
	// The reasons are deliberately indistinguishable to the caller.
	ErrPairingFailed = errors.New("location: pairing failed")

	// ErrCodeCollision is returned when a unique pairing code could not be
	// generated within the bounded retry count.
	ErrCodeCollision = errors.New("location: could not generate unique pairing code")
)
