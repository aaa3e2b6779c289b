package errors

import "errors"

var (
	ErrNotFound = errors.New("appointment not found")
	ErrLockHeld = errors.New("slot lock held by another request")
)
