package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventStatusCreated   EventStatus = "created"
	EventStatusStarted   EventStatus = "started"
	EventStatusCompleted EventStatus = "completed"
	EventStatusFailed    EventStatus = "failed"
)

// eventTransitions lists the legal successor states of every status.
// started→created only happens when the roster fails validation before any
// generation work, failed→created only through an explicit reset.
var eventTransitions = map[EventStatus][]EventStatus{
	EventStatusCreated:   {EventStatusStarted},
	EventStatusStarted:   {EventStatusCompleted, EventStatusFailed, EventStatusCreated},
	EventStatusCompleted: {},
	EventStatusFailed:    {EventStatusCreated},
}

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	_, ok := eventTransitions[s]
	return ok
}

// Terminal reports whether no draw can run from s without outside action.
func (s EventStatus) Terminal() bool {
	return s == EventStatusCompleted || s == EventStatusFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	for _, allowed := range eventTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from→to is not legal.
func ValidateTransition(from, to EventStatus) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

type FailureKind string

const (
	FailureKindInfeasible FailureKind = "infeasible"
	FailureKindError      FailureKind = "error"
)

// Failure records why a draw ended in EventStatusFailed.
type Failure struct {
	Kind   FailureKind
	Reason string
}

// Event is a gift exchange. Status is owned by the coordinator while a draw
// is in flight and by the store otherwise.
type Event struct {
	ID        uuid.UUID
	Name      string
	CreatorID uuid.UUID // participant who registered the event

	PriceLimit decimal.NullDecimal
	EventDate  time.Time
	DrawAt     *time.Time // optional automatic start

	Status  EventStatus
	Failure *Failure

	StartedAt   *time.Time
	CompletedAt *time.Time
	NotifiedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Editable reports whether the roster and event details may still change.
func (e Event) Editable() bool {
	return e.Status == EventStatusCreated
}
