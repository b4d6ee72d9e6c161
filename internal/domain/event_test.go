package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEventStatus_Values(t *testing.T) {
	tests := []struct {
		status EventStatus
		want   string
	}{
		{EventStatusCreated, "created"},
		{EventStatusStarted, "started"},
		{EventStatusCompleted, "completed"},
		{EventStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.status))
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, EventStatus("archived").Valid())
}

func TestEventStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to EventStatus
		ok       bool
	}{
		{EventStatusCreated, EventStatusStarted, true},
		{EventStatusCreated, EventStatusCompleted, false},
		{EventStatusCreated, EventStatusFailed, false},
		{EventStatusStarted, EventStatusCompleted, true},
		{EventStatusStarted, EventStatusFailed, true},
		{EventStatusStarted, EventStatusCreated, true},
		{EventStatusCompleted, EventStatusCreated, false},
		{EventStatusCompleted, EventStatusStarted, false},
		{EventStatusFailed, EventStatusCreated, true},
		{EventStatusFailed, EventStatusStarted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))

			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		})
	}
}

func TestEventStatus_Terminal(t *testing.T) {
	assert.False(t, EventStatusCreated.Terminal())
	assert.False(t, EventStatusStarted.Terminal())
	assert.True(t, EventStatusCompleted.Terminal())
	assert.True(t, EventStatusFailed.Terminal())
}

func TestExclusion_Forbids(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	symmetric := Exclusion{GiverID: a, RecipientID: b}
	assert.True(t, symmetric.Forbids(a, b))
	assert.True(t, symmetric.Forbids(b, a))
	assert.False(t, symmetric.Forbids(a, c))

	oneWay := Exclusion{GiverID: a, RecipientID: b, OneWay: true}
	assert.True(t, oneWay.Forbids(a, b))
	assert.False(t, oneWay.Forbids(b, a))
}

func TestParticipant_Eligible(t *testing.T) {
	assert.True(t, Participant{Status: ParticipationAccepted}.Eligible())
	assert.False(t, Participant{Status: ParticipationInvited}.Eligible())
	assert.False(t, Participant{Status: ParticipationDeclined}.Eligible())
}
