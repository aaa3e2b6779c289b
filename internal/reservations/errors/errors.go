package errors

import "errors"

var (
	ErrNotFound = errors.New("hold not found")

	// ErrSlotClaimed is the unique live-hold index rejecting an insert:
	// another pending hold already claims the slot.
	ErrSlotClaimed = errors.New("slot already claimed by a live hold")
)
