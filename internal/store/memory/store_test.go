package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/wichtel/internal/domain"
)

var t0 = time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) (domain.Event, domain.Participant) {
	t.Helper()
	ev := domain.Event{ID: uuid.New(), Name: "Family", CreatorID: uuid.New(), Status: domain.EventStatusCreated, CreatedAt: t0, UpdatedAt: t0}
	creator := domain.Participant{ID: ev.CreatorID, EventID: ev.ID, Email: "mum@example.com", Status: domain.ParticipationAccepted, CreatedAt: t0}
	require.NoError(t, s.CreateEvent(context.Background(), ev, creator))
	return ev, creator
}

func TestStore_RosterOnlyHoldsAcceptedParticipants(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev, creator := seed(t, s)

	invited := domain.Participant{ID: uuid.New(), EventID: ev.ID, Email: "kid@example.com", Status: domain.ParticipationInvited}
	declined := domain.Participant{ID: uuid.New(), EventID: ev.ID, Email: "uncle@example.com", Status: domain.ParticipationDeclined}
	require.NoError(t, s.AddParticipant(ctx, invited))
	require.NoError(t, s.AddParticipant(ctx, declined))
	assert.ErrorIs(t, s.AddParticipant(ctx, domain.Participant{ID: uuid.New(), EventID: ev.ID, Email: "MUM@example.com"}), domain.ErrDuplicate)

	roster, err := s.ListRoster(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{creator.ID}, roster.Participants)

	require.NoError(t, s.SetParticipantStatus(ctx, ev.ID, invited.ID, domain.ParticipationAccepted, t0))
	roster, err = s.ListRoster(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{creator.ID, invited.ID}, roster.Participants)

	assert.ErrorIs(t, s.SetParticipantStatus(ctx, ev.ID, uuid.New(), domain.ParticipationAccepted, t0), domain.ErrNotFound)
}

func TestStore_ExclusionsRequireKnownParticipants(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev, creator := seed(t, s)
	other := domain.Participant{ID: uuid.New(), EventID: ev.ID, Email: "dad@example.com", Status: domain.ParticipationAccepted}
	require.NoError(t, s.AddParticipant(ctx, other))

	x := domain.Exclusion{ID: uuid.New(), EventID: ev.ID, GiverID: creator.ID, RecipientID: other.ID}
	require.NoError(t, s.AddExclusion(ctx, x))
	assert.ErrorIs(t, s.AddExclusion(ctx, x), domain.ErrDuplicate)
	assert.ErrorIs(t, s.AddExclusion(ctx, domain.Exclusion{ID: uuid.New(), EventID: ev.ID, GiverID: creator.ID, RecipientID: uuid.New()}), domain.ErrNotFound)

	list, err := s.ListExclusions(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_StatusCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev, _ := seed(t, s)

	require.NoError(t, s.TransitionStatus(ctx, ev.ID, domain.EventStatusCreated, domain.EventStatusStarted, t0))
	assert.ErrorIs(t, s.TransitionStatus(ctx, ev.ID, domain.EventStatusCreated, domain.EventStatusStarted, t0), domain.ErrStatusConflict)
	assert.ErrorIs(t, s.TransitionStatus(ctx, ev.ID, domain.EventStatusCompleted, domain.EventStatusStarted, t0), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.TransitionStatus(ctx, uuid.New(), domain.EventStatusCreated, domain.EventStatusStarted, t0), domain.ErrNotFound)

	assert.ErrorIs(t, s.AddParticipant(ctx, domain.Participant{ID: uuid.New(), EventID: ev.ID, Email: "late@example.com"}), domain.ErrEventLocked)
	assert.ErrorIs(t, s.UpdateEvent(ctx, domain.Event{ID: ev.ID, Name: "renamed"}), domain.ErrEventLocked)

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, t0, *got.StartedAt)
}

func TestStore_CommitFailResetLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev, creator := seed(t, s)
	pairs := []domain.Assignment{{EventID: ev.ID, GiverID: creator.ID, RecipientID: uuid.New()}}

	assert.ErrorIs(t, s.CommitAssignments(ctx, ev.ID, pairs, t0), domain.ErrStatusConflict)
	require.NoError(t, s.TransitionStatus(ctx, ev.ID, domain.EventStatusCreated, domain.EventStatusStarted, t0))

	require.NoError(t, s.FailEvent(ctx, ev.ID, domain.Failure{Kind: domain.FailureKindError, Reason: "boom"}, t0))
	assert.ErrorIs(t, s.FailEvent(ctx, ev.ID, domain.Failure{Kind: domain.FailureKindError}, t0), domain.ErrStatusConflict)

	require.NoError(t, s.ResetEvent(ctx, ev.ID, t0))
	assert.ErrorIs(t, s.ResetEvent(ctx, ev.ID, t0), domain.ErrStatusConflict)

	require.NoError(t, s.TransitionStatus(ctx, ev.ID, domain.EventStatusCreated, domain.EventStatusStarted, t0))
	require.NoError(t, s.CommitAssignments(ctx, ev.ID, pairs, t0.Add(time.Minute)))

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusCompleted, got.Status)
	assert.Nil(t, got.Failure)

	rows, err := s.ListAssignments(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, pairs, rows)
}

func TestStore_BackgroundQueries(t *testing.T) {
	s := New()
	ctx := context.Background()

	due, _ := seed(t, s)
	drawAt := t0.Add(-time.Minute)
	due.DrawAt = &drawAt
	require.NoError(t, s.UpdateEvent(ctx, due))

	future, _ := seed(t, s)
	later := t0.Add(time.Hour)
	future.DrawAt = &later
	require.NoError(t, s.UpdateEvent(ctx, future))

	stale, _ := seed(t, s)
	require.NoError(t, s.TransitionStatus(ctx, stale.ID, domain.EventStatusCreated, domain.EventStatusStarted, t0.Add(-time.Hour)))

	done, creator := seed(t, s)
	require.NoError(t, s.TransitionStatus(ctx, done.ID, domain.EventStatusCreated, domain.EventStatusStarted, t0))
	require.NoError(t, s.CommitAssignments(ctx, done.ID, []domain.Assignment{{GiverID: creator.ID}}, t0.Add(-10*time.Minute)))

	dueEvents, err := s.ListDueEvents(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, dueEvents, 1)
	assert.Equal(t, due.ID, dueEvents[0].ID)

	staleEvents, err := s.ListStaleDraws(ctx, t0.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, staleEvents, 1)
	assert.Equal(t, stale.ID, staleEvents[0].ID)

	unnotified, err := s.ListUnnotified(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, unnotified, 1)
	assert.Equal(t, done.ID, unnotified[0].ID)

	require.NoError(t, s.MarkNotified(ctx, done.ID, t0))
	unnotified, err = s.ListUnnotified(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, unnotified)

	assert.ErrorIs(t, s.MarkNotified(ctx, due.ID, t0), domain.ErrStatusConflict)
}

func TestStore_ListEventsNewestFirst(t *testing.T) {
	s := New()
	first, _ := seed(t, s)
	second, _ := seed(t, s)

	events, err := s.ListEvents(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second.ID, events[0].ID)
	assert.Equal(t, first.ID, events[1].ID)

	events, err = s.ListEvents(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.ID, events[0].ID)

	events, err = s.ListEvents(context.Background(), 10, -3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second.ID, events[0].ID)
}
