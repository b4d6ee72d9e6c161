package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipationStatus string

const (
	ParticipationInvited  ParticipationStatus = "invited"
	ParticipationAccepted ParticipationStatus = "accepted"
	ParticipationDeclined ParticipationStatus = "declined"
)

func (s ParticipationStatus) Valid() bool {
	switch s {
	case ParticipationInvited, ParticipationAccepted, ParticipationDeclined:
		return true
	}
	return false
}

// Participant is a person registered to an event. Only accepted participants
// take part in the draw.
type Participant struct {
	ID      uuid.UUID
	EventID uuid.UUID

	Name  string
	Email string

	Status ParticipationStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Eligible reports whether p is part of the draw roster.
func (p Participant) Eligible() bool {
	return p.Status == ParticipationAccepted
}
