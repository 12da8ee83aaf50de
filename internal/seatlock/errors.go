package seatlock

import "errors"

// ErrValidation is the parent of every input error returned by the manager.
// Callers match it with errors.Is and reply to the sender only.
var ErrValidation = errors.New("invalid seat lock request")

var (
	// ErrInvalidRoom is returned for an empty room key or missing showtime parts.
	ErrInvalidRoom = validationError("invalid room")
	// ErrInvalidSeat is returned for an empty or oversized seat id.
	ErrInvalidSeat = validationError("invalid seat id")
	// ErrInvalidOwner is returned for an empty owner connection id.
	ErrInvalidOwner = validationError("invalid owner")
)

type validation struct{ msg string }

func validationError(msg string) error { return &validation{msg: msg} }

func (v *validation) Error() string { return v.msg }

func (v *validation) Is(target error) bool { return target == ErrValidation }
