package editsession

import "errors"

var (
	ErrSessionNotFound   = errors.New("edit session not found")
	ErrInvalidTransition = errors.New("invalid edit session transition")
	ErrNoPendingSchedule = errors.New("no schedule is awaiting resolution")
	// ErrConflictsUnverified is returned when bookings could not be checked
	// and the fetch policy is FetchBlock.
	ErrConflictsUnverified = errors.New("could not verify conflicts, retry")
	// ErrStaleSchedule means the order was changed elsewhere since it was read.
	ErrStaleSchedule = errors.New("schedule changed elsewhere, reload and retry")
)
