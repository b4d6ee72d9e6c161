package domain

import (
	"time"

	"github.com/google/uuid"
)

// Exclusion forbids Giver from drawing Recipient. Unless OneWay is set the
// rule also forbids Recipient from drawing Giver (couples, flatmates).
type Exclusion struct {
	ID      uuid.UUID
	EventID uuid.UUID

	GiverID     uuid.UUID
	RecipientID uuid.UUID
	OneWay      bool

	CreatedAt time.Time
}

// Forbids reports whether the rule forbids giver→recipient.
func (x Exclusion) Forbids(giver, recipient uuid.UUID) bool {
	if x.GiverID == giver && x.RecipientID == recipient {
		return true
	}
	return !x.OneWay && x.GiverID == recipient && x.RecipientID == giver
}

// Roster is the immutable draw input for one event: the eligible participants
// in registry order plus every exclusion recorded for the event.
type Roster struct {
	EventID      uuid.UUID
	Participants []uuid.UUID
	Exclusions   []Exclusion
}
