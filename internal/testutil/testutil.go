// Package testutil provides shared test helpers for wichtel.
package testutil

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/wichtel/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// SeededRand returns a reproducible PCG-backed generator.
func SeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RosterWriter is the part of a store needed to seed events.
type RosterWriter interface {
	CreateEvent(ctx context.Context, ev domain.Event, creator domain.Participant) error
	AddParticipant(ctx context.Context, p domain.Participant) error
}

// SeedEvent stores an event in created status with n accepted participants.
// The first participant is the creator. Participants are returned in
// registry order and are named P0, P1, ...
func SeedEvent(t *testing.T, w RosterWriter, n int, now time.Time) (domain.Event, []domain.Participant) {
	t.Helper()
	require.Positive(t, n, "an event always has its creator")

	ev := domain.Event{
		ID:        uuid.New(),
		Name:      "Wichteln",
		EventDate: now.AddDate(0, 0, 14).Truncate(24 * time.Hour),
		Status:    domain.EventStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	people := make([]domain.Participant, n)
	for i := range people {
		people[i] = domain.Participant{
			ID:        uuid.New(),
			EventID:   ev.ID,
			Name:      fmt.Sprintf("P%d", i),
			Email:     fmt.Sprintf("p%d@example.com", i),
			Status:    domain.ParticipationAccepted,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	ev.CreatorID = people[0].ID

	ctx := context.Background()
	require.NoError(t, w.CreateEvent(ctx, ev, people[0]))
	for _, p := range people[1:] {
		require.NoError(t, w.AddParticipant(ctx, p))
	}
	return ev, people
}

// DrawWriter is the part of a store needed to complete a draw by hand.
type DrawWriter interface {
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.EventStatus, at time.Time) error
	CommitAssignments(ctx context.Context, id uuid.UUID, assignments []domain.Assignment, at time.Time) error
}

// Ring assigns every participant to the next one in registry order.
func Ring(eventID uuid.UUID, people []domain.Participant, at time.Time) []domain.Assignment {
	out := make([]domain.Assignment, len(people))
	for i := range people {
		out[i] = domain.Assignment{
			EventID:     eventID,
			GiverID:     people[i].ID,
			RecipientID: people[(i+1)%len(people)].ID,
			CreatedAt:   at,
		}
	}
	return out
}

// CompleteDraw moves a created event through started to completed with a
// ring assignment and returns the notice the coordinator would emit.
func CompleteDraw(t *testing.T, w DrawWriter, ev domain.Event, people []domain.Participant, at time.Time) domain.DrawCompleted {
	t.Helper()
	ctx := context.Background()
	assignments := Ring(ev.ID, people, at)
	require.NoError(t, w.TransitionStatus(ctx, ev.ID, domain.EventStatusCreated, domain.EventStatusStarted, at))
	require.NoError(t, w.CommitAssignments(ctx, ev.ID, assignments, at))
	return domain.DrawCompleted{EventID: ev.ID, Assignments: assignments, CompletedAt: at, EmittedAt: at}
}
