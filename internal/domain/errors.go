package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when an event or participant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned by a compare-and-set status update whose
	// expected current status did not match.
	ErrStatusConflict = errors.New("event status changed concurrently")

	// ErrInvalidTransition is matched by TransitionError.
	ErrInvalidTransition = errors.New("invalid event status transition")

	// ErrEventLocked is returned when the roster or details of an event that is
	// no longer in created status are modified.
	ErrEventLocked = errors.New("event can no longer be modified")

	// ErrDuplicate is returned when a participant email or exclusion already exists.
	ErrDuplicate = errors.New("already exists")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From EventStatus
	To   EventStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid event status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
