package controller

import "errors"

// Domain errors for the controller package.
var (
	// ErrShutDown is returned when work is submitted after shutdown began.
	ErrShutDown = errors.New("controller: shut down")

	// ErrPastSchedule is returned when a batch's executeAfter has already passed.
	ErrPastSchedule = errors.New("controller: executeAfter is in the past")

	// ErrScheduleNotFound is returned when no scheduled batch contains any
	// of the ids given to a cancel call.
	ErrScheduleNotFound = errors.New("controller: no matching scheduled batch")
)
