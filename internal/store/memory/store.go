// Package memory is an in-process implementation of every store contract.
// It backs the tests and STORAGE_DRIVER=memory; state is lost on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/wichtel/internal/domain"
)

type eventState struct {
	event        domain.Event
	participants []domain.Participant // registry order
	exclusions   []domain.Exclusion
	assignments  []domain.Assignment
}

// Store guards all state with a single mutex, which makes every method atomic
// the way a transaction is in the Postgres store.
type Store struct {
	mu     sync.Mutex
	events map[uuid.UUID]*eventState
	order  []uuid.UUID

	// failCommit, when set, is returned by CommitAssignments before any write.
	failCommit error
}

func New() *Store {
	return &Store{events: make(map[uuid.UUID]*eventState)}
}

// FailCommits makes CommitAssignments fail with err until called with nil.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

func (s *Store) get(id uuid.UUID) (*eventState, error) {
	st, ok := s.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st, nil
}

func (s *Store) editable(id uuid.UUID) (*eventState, error) {
	st, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !st.event.Editable() {
		return nil, domain.ErrEventLocked
	}
	return st, nil
}

func copyEvent(ev domain.Event) domain.Event {
	if ev.Failure != nil {
		f := *ev.Failure
		ev.Failure = &f
	}
	return ev
}

// CreateEvent stores ev together with its creator, who joins as a participant.
func (s *Store) CreateEvent(ctx context.Context, ev domain.Event, creator domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[ev.ID]; exists {
		return domain.ErrDuplicate
	}
	s.events[ev.ID] = &eventState{
		event:        copyEvent(ev),
		participants: []domain.Participant{creator},
	}
	s.order = append(s.order, ev.ID)
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return domain.Event{}, err
	}
	return copyEvent(st.event), nil
}

func (s *Store) ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	var out []domain.Event
	for i := len(s.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyEvent(s.events[s.order[i]].event))
	}
	return out, nil
}

// UpdateEvent replaces the editable details of an event in created status.
func (s *Store) UpdateEvent(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.editable(ev.ID)
	if err != nil {
		return err
	}
	st.event.Name = ev.Name
	st.event.PriceLimit = ev.PriceLimit
	st.event.EventDate = ev.EventDate
	st.event.DrawAt = ev.DrawAt
	st.event.UpdatedAt = ev.UpdatedAt
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.editable(p.EventID)
	if err != nil {
		return err
	}
	for _, existing := range st.participants {
		if strings.EqualFold(existing.Email, p.Email) {
			return domain.ErrDuplicate
		}
	}
	st.participants = append(st.participants, p)
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, eventID uuid.UUID) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(eventID)
	if err != nil {
		return nil, err
	}
	return append([]domain.Participant(nil), st.participants...), nil
}

func (s *Store) SetParticipantStatus(ctx context.Context, eventID, participantID uuid.UUID, status domain.ParticipationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.editable(eventID)
	if err != nil {
		return err
	}
	for i := range st.participants {
		if st.participants[i].ID == participantID {
			st.participants[i].Status = status
			st.participants[i].UpdatedAt = at
			return nil
		}
	}
	return domain.ErrNotFound
}

// AddExclusion records x. Both participants must belong to the event.
func (s *Store) AddExclusion(ctx context.Context, x domain.Exclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.editable(x.EventID)
	if err != nil {
		return err
	}
	var giver, recipient bool
	for _, p := range st.participants {
		giver = giver || p.ID == x.GiverID
		recipient = recipient || p.ID == x.RecipientID
	}
	if !giver || !recipient {
		return domain.ErrNotFound
	}
	for _, existing := range st.exclusions {
		if existing.GiverID == x.GiverID && existing.RecipientID == x.RecipientID {
			return domain.ErrDuplicate
		}
	}
	st.exclusions = append(st.exclusions, x)
	return nil
}

func (s *Store) ListExclusions(ctx context.Context, eventID uuid.UUID) ([]domain.Exclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(eventID)
	if err != nil {
		return nil, err
	}
	return append([]domain.Exclusion(nil), st.exclusions...), nil
}

// ListRoster returns the accepted participants in registry order and every
// exclusion of the event.
func (s *Store) ListRoster(ctx context.Context, id uuid.UUID) (domain.Roster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return domain.Roster{}, err
	}
	roster := domain.Roster{EventID: id}
	for _, p := range st.participants {
		if p.Eligible() {
			roster.Participants = append(roster.Participants, p.ID)
		}
	}
	roster.Exclusions = append([]domain.Exclusion(nil), st.exclusions...)
	return roster, nil
}

func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.EventStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return err
	}
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	if st.event.Status != from {
		return domain.ErrStatusConflict
	}
	st.event.Status = to
	st.event.UpdatedAt = at
	switch to {
	case domain.EventStatusStarted:
		st.event.StartedAt = &at
	case domain.EventStatusCreated:
		st.event.StartedAt = nil
	}
	return nil
}

func (s *Store) CommitAssignments(ctx context.Context, id uuid.UUID, assignments []domain.Assignment, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		return s.failCommit
	}
	st, err := s.get(id)
	if err != nil {
		return err
	}
	if st.event.Status != domain.EventStatusStarted {
		return domain.ErrStatusConflict
	}
	if len(st.assignments) > 0 {
		return domain.ErrDuplicate
	}
	st.assignments = append([]domain.Assignment(nil), assignments...)
	st.event.Status = domain.EventStatusCompleted
	st.event.CompletedAt = &at
	st.event.UpdatedAt = at
	return nil
}

func (s *Store) FailEvent(ctx context.Context, id uuid.UUID, failure domain.Failure, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return err
	}
	if st.event.Status != domain.EventStatusStarted {
		return domain.ErrStatusConflict
	}
	st.event.Status = domain.EventStatusFailed
	st.event.Failure = &failure
	st.event.UpdatedAt = at
	return nil
}

func (s *Store) ResetEvent(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return err
	}
	if st.event.Status != domain.EventStatusFailed {
		return domain.ErrStatusConflict
	}
	st.event.Status = domain.EventStatusCreated
	st.event.Failure = nil
	st.event.StartedAt = nil
	st.event.UpdatedAt = at
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, id uuid.UUID) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return append([]domain.Assignment(nil), st.assignments...), nil
}

// ListStaleDraws returns events stuck in started since before startedBefore,
// oldest first.
func (s *Store) ListStaleDraws(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Event, error) {
	return s.filter(limit, func(ev domain.Event) (time.Time, bool) {
		if ev.Status != domain.EventStatusStarted || ev.StartedAt == nil {
			return time.Time{}, false
		}
		return *ev.StartedAt, ev.StartedAt.Before(startedBefore)
	}), nil
}

// ListUnnotified returns completed events whose givers were never notified,
// oldest completion first.
func (s *Store) ListUnnotified(ctx context.Context, completedBefore time.Time, limit int) ([]domain.Event, error) {
	return s.filter(limit, func(ev domain.Event) (time.Time, bool) {
		if ev.Status != domain.EventStatusCompleted || ev.NotifiedAt != nil || ev.CompletedAt == nil {
			return time.Time{}, false
		}
		return *ev.CompletedAt, ev.CompletedAt.Before(completedBefore)
	}), nil
}

// ListDueEvents returns created events whose draw time is not after now.
func (s *Store) ListDueEvents(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	return s.filter(limit, func(ev domain.Event) (time.Time, bool) {
		if ev.Status != domain.EventStatusCreated || ev.DrawAt == nil {
			return time.Time{}, false
		}
		return *ev.DrawAt, !ev.DrawAt.After(now)
	}), nil
}

func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return err
	}
	if st.event.Status != domain.EventStatusCompleted {
		return domain.ErrStatusConflict
	}
	if st.event.NotifiedAt == nil {
		st.event.NotifiedAt = &at
	}
	return nil
}

func (s *Store) filter(limit int, match func(domain.Event) (time.Time, bool)) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	type keyed struct {
		at time.Time
		ev domain.Event
	}
	var hits []keyed
	for _, id := range s.order {
		ev := s.events[id].event
		if at, ok := match(ev); ok {
			hits = append(hits, keyed{at: at, ev: copyEvent(ev)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at.Before(hits[j].at) })

	var out []domain.Event
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.ev)
	}
	return out
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}
