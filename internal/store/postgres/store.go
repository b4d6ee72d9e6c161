package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/djlord-it/wichtel/internal/domain"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// Store implements every store contract on PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opTimeout time.Duration
}

// New creates a store. opTimeout bounds each operation; zero disables it.
func New(db *sqlx.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

type eventRow struct {
	ID            uuid.UUID           `db:"id"`
	Name          string              `db:"name"`
	CreatorID     uuid.UUID           `db:"creator_id"`
	PriceLimit    decimal.NullDecimal `db:"price_limit"`
	EventDate     time.Time           `db:"event_date"`
	DrawAt        *time.Time          `db:"draw_at"`
	Status        string              `db:"status"`
	FailureKind   sql.NullString      `db:"failure_kind"`
	FailureReason sql.NullString      `db:"failure_reason"`
	StartedAt     *time.Time          `db:"started_at"`
	CompletedAt   *time.Time          `db:"completed_at"`
	NotifiedAt    *time.Time          `db:"notified_at"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

func (r eventRow) toDomain() domain.Event {
	ev := domain.Event{
		ID:          r.ID,
		Name:        r.Name,
		CreatorID:   r.CreatorID,
		PriceLimit:  r.PriceLimit,
		EventDate:   r.EventDate,
		DrawAt:      r.DrawAt,
		Status:      domain.EventStatus(r.Status),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		NotifiedAt:  r.NotifiedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.FailureKind.Valid {
		ev.Failure = &domain.Failure{Kind: domain.FailureKind(r.FailureKind.String), Reason: r.FailureReason.String}
	}
	return ev
}

func toEventRow(ev domain.Event) eventRow {
	return eventRow{
		ID:         ev.ID,
		Name:       ev.Name,
		CreatorID:  ev.CreatorID,
		PriceLimit: ev.PriceLimit,
		EventDate:  ev.EventDate,
		DrawAt:     ev.DrawAt,
		Status:     string(ev.Status),
		CreatedAt:  ev.CreatedAt,
		UpdatedAt:  ev.UpdatedAt,
	}
}

type participantRow struct {
	ID        uuid.UUID `db:"id"`
	EventID   uuid.UUID `db:"event_id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r participantRow) toDomain() domain.Participant {
	return domain.Participant{
		ID:        r.ID,
		EventID:   r.EventID,
		Name:      r.Name,
		Email:     r.Email,
		Status:    domain.ParticipationStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toParticipantRow(p domain.Participant) participantRow {
	return participantRow{
		ID:        p.ID,
		EventID:   p.EventID,
		Name:      p.Name,
		Email:     p.Email,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type exclusionRow struct {
	ID          uuid.UUID `db:"id"`
	EventID     uuid.UUID `db:"event_id"`
	GiverID     uuid.UUID `db:"giver_id"`
	RecipientID uuid.UUID `db:"recipient_id"`
	OneWay      bool      `db:"one_way"`
	CreatedAt   time.Time `db:"created_at"`
}

type assignmentRow struct {
	EventID     uuid.UUID `db:"event_id"`
	GiverID     uuid.UUID `db:"giver_id"`
	RecipientID uuid.UUID `db:"recipient_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// pqCode returns the SQLSTATE of a lib/pq error, or "".
func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// translate maps constraint violations onto domain errors.
func translate(err error) error {
	switch pqCode(err) {
	case pqUniqueViolation:
		return domain.ErrDuplicate
	case pqForeignKeyViolation:
		return domain.ErrNotFound
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// transact runs fn in a transaction that is committed only if fn succeeds.
func (s *Store) transact(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// lockEditable takes a share lock on the event row and requires status
// created. The start transition needs an exclusive lock, so roster changes
// and the start are serialized.
func lockEditable(ctx context.Context, tx *sqlx.Tx, eventID uuid.UUID) error {
	var status string
	if err := tx.GetContext(ctx, &status, queryShareLockEvent, eventID); err != nil {
		return translate(err)
	}
	if domain.EventStatus(status) != domain.EventStatusCreated {
		return domain.ErrEventLocked
	}
	return nil
}

// casMiss distinguishes an unknown event from a status mismatch after a
// guarded UPDATE touched no row.
func (s *Store) casMiss(ctx context.Context, id uuid.UUID, locked error) error {
	var status string
	err := s.db.GetContext(ctx, &status, queryGetEventStatus, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return locked
}

func (s *Store) execCAS(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.casMiss(ctx, id, domain.ErrStatusConflict)
	}
	return nil
}

// CreateEvent inserts ev and its creator in one transaction.
func (s *Store) CreateEvent(ctx context.Context, ev domain.Event, creator domain.Participant) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, queryInsertEvent, toEventRow(ev)); err != nil {
			return translate(err)
		}
		if _, err := tx.NamedExecContext(ctx, queryInsertParticipant, toParticipantRow(creator)); err != nil {
			return translate(err)
		}
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row eventRow
	if err := s.db.GetContext(ctx, &row, queryGetEvent, id); err != nil {
		return domain.Event{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	return s.selectEvents(ctx, queryListEvents, limit, offset)
}

func (s *Store) selectEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Event, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// UpdateEvent replaces the editable details of an event in created status.
func (s *Store) UpdateEvent(ctx context.Context, ev domain.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryUpdateEvent, ev.ID, ev.Name, ev.PriceLimit, ev.EventDate, ev.DrawAt, ev.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.casMiss(ctx, ev.ID, domain.ErrEventLocked)
	}
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, p domain.Participant) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.transact(ctx, func(tx *sqlx.Tx) error {
		if err := lockEditable(ctx, tx, p.EventID); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, queryInsertParticipant, toParticipantRow(p))
		return translate(err)
	})
}

func (s *Store) ListParticipants(ctx context.Context, eventID uuid.UUID) ([]domain.Participant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}
	var rows []participantRow
	if err := s.db.SelectContext(ctx, &rows, queryListParticipants, eventID); err != nil {
		return nil, err
	}
	out := make([]domain.Participant, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SetParticipantStatus(ctx context.Context, eventID, participantID uuid.UUID, status domain.ParticipationStatus, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.transact(ctx, func(tx *sqlx.Tx) error {
		if err := lockEditable(ctx, tx, eventID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, querySetParticipantStatus, eventID, participantID, string(status), at)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// AddExclusion records x. An unknown participant surfaces as ErrNotFound.
func (s *Store) AddExclusion(ctx context.Context, x domain.Exclusion) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.transact(ctx, func(tx *sqlx.Tx) error {
		if err := lockEditable(ctx, tx, x.EventID); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, queryInsertExclusion, exclusionRow{
			ID:          x.ID,
			EventID:     x.EventID,
			GiverID:     x.GiverID,
			RecipientID: x.RecipientID,
			OneWay:      x.OneWay,
			CreatedAt:   x.CreatedAt,
		})
		return translate(err)
	})
}

func (s *Store) ListExclusions(ctx context.Context, eventID uuid.UUID) ([]domain.Exclusion, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.listExclusions(ctx, s.db, eventID)
}

func (s *Store) listExclusions(ctx context.Context, q sqlx.QueryerContext, eventID uuid.UUID) ([]domain.Exclusion, error) {
	var rows []exclusionRow
	if err := sqlx.SelectContext(ctx, q, &rows, queryListExclusions, eventID); err != nil {
		return nil, err
	}
	out := make([]domain.Exclusion, len(rows))
	for i, r := range rows {
		out[i] = domain.Exclusion{
			ID:          r.ID,
			EventID:     r.EventID,
			GiverID:     r.GiverID,
			RecipientID: r.RecipientID,
			OneWay:      r.OneWay,
			CreatedAt:   r.CreatedAt,
		}
	}
	return out, nil
}

func (s *Store) requireEvent(ctx context.Context, id uuid.UUID) error {
	var status string
	if err := s.db.GetContext(ctx, &status, queryGetEventStatus, id); err != nil {
		return translate(err)
	}
	return nil
}

// ListRoster reads eligible participants and exclusions from one snapshot.
func (s *Store) ListRoster(ctx context.Context, id uuid.UUID) (domain.Roster, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	roster := domain.Roster{EventID: id}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return roster, err
	}
	defer tx.Rollback()

	var status string
	if err := tx.GetContext(ctx, &status, queryGetEventStatus, id); err != nil {
		return roster, translate(err)
	}
	if err := tx.SelectContext(ctx, &roster.Participants, queryListEligible, id); err != nil {
		return roster, err
	}
	if roster.Exclusions, err = s.listExclusions(ctx, tx, id); err != nil {
		return roster, err
	}
	return roster, nil
}

// TransitionStatus moves the event from → to if it is still in from.
func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.EventStatus, at time.Time) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.execCAS(ctx, id, queryTransitionStatus, id, string(from), string(to), at)
}

// CommitAssignments writes every row and completes the event in a single
// transaction, so readers never see completed without the full set.
func (s *Store) CommitAssignments(ctx context.Context, id uuid.UUID, assignments []domain.Assignment, at time.Time) error {
	if len(assignments) == 0 {
		return fmt.Errorf("commit assignments: empty assignment set for %s", id)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows := make([]assignmentRow, len(assignments))
	for i, a := range assignments {
		rows[i] = assignmentRow{EventID: id, GiverID: a.GiverID, RecipientID: a.RecipientID, CreatedAt: a.CreatedAt}
	}

	return s.transact(ctx, func(tx *sqlx.Tx) error {
		var status string
		if err := tx.GetContext(ctx, &status, queryLockEvent, id); err != nil {
			return translate(err)
		}
		if domain.EventStatus(status) != domain.EventStatusStarted {
			return domain.ErrStatusConflict
		}

		if _, err := tx.NamedExecContext(ctx, queryInsertAssignments, rows); err != nil {
			if code := pqCode(err); code == pqUniqueViolation || code == pqCheckViolation {
				return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
			}
			return err
		}
		_, err := tx.ExecContext(ctx, queryCompleteEvent, id, at)
		return err
	})
}

func (s *Store) FailEvent(ctx context.Context, id uuid.UUID, failure domain.Failure, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.execCAS(ctx, id, queryFailEvent, id, string(failure.Kind), failure.Reason, at)
}

func (s *Store) ResetEvent(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.execCAS(ctx, id, queryResetEvent, id, at)
}

func (s *Store) ListAssignments(ctx context.Context, id uuid.UUID) ([]domain.Assignment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []assignmentRow
	if err := s.db.SelectContext(ctx, &rows, queryListAssignments, id); err != nil {
		return nil, err
	}
	out := make([]domain.Assignment, len(rows))
	for i, r := range rows {
		out[i] = domain.Assignment{EventID: r.EventID, GiverID: r.GiverID, RecipientID: r.RecipientID, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (s *Store) ListStaleDraws(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Event, error) {
	return s.selectEvents(ctx, queryListStaleDraws, startedBefore, limit)
}

func (s *Store) ListUnnotified(ctx context.Context, completedBefore time.Time, limit int) ([]domain.Event, error) {
	return s.selectEvents(ctx, queryListUnnotified, completedBefore, limit)
}

func (s *Store) ListDueEvents(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	return s.selectEvents(ctx, queryListDueEvents, now, limit)
}

func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.execCAS(ctx, id, queryMarkNotified, id, at)
}

// Ping checks connectivity for the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}
