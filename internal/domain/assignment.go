package domain

import (
	"time"

	"github.com/google/uuid"
)

// Assignment is one realised (giver, recipient) pair. An event has exactly one
// assignment per eligible participant, written once when the draw completes.
type Assignment struct {
	EventID     uuid.UUID
	GiverID     uuid.UUID
	RecipientID uuid.UUID

	CreatedAt time.Time
}

// DrawCompleted is emitted after the assignment set of an event has been
// committed, for delivery to the givers.
type DrawCompleted struct {
	EventID     uuid.UUID
	Assignments []Assignment

	CompletedAt time.Time
	EmittedAt   time.Time
}
