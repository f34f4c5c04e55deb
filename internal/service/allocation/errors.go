package allocation

import "errors"

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrBookingClosed       = errors.New("booking is not open")
	ErrSeatNotFound        = errors.New("seat not found")
	ErrAllocationNotFound  = errors.New("allocation not found")
	ErrAlreadyOccupied     = errors.New("seat already occupied")
	ErrAlreadyHeld         = errors.New("seat held by another holder")
	ErrHoldConflict        = errors.New("conflict acquiring hold")
	ErrUnauthorizedRelease = errors.New("holder does not own this hold")
	ErrNothingToConfirm    = errors.New("nothing to confirm")
	ErrBookingNotFound     = errors.New("booking not found")
)
