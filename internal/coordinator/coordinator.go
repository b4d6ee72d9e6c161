// Package coordinator runs the draw of an event at most once.
//
// Concurrent Start calls for the same event inside one process share a single
// flight. Across processes the store's compare-and-set on created→started
// elects the caller that draws; everybody else polls the event until it
// reaches a terminal status and replays the stored result.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/draw"
	"github.com/djlord-it/wichtel/internal/metrics"
)

const (
	defaultDrawTimeout  = 30 * time.Second
	defaultPollInterval = 200 * time.Millisecond
	failWriteTimeout    = 5 * time.Second
	tracerName          = "github.com/djlord-it/wichtel/internal/coordinator"
)

// Store is the registry and persister the coordinator drives.
//
// TransitionStatus, CommitAssignments, FailEvent and ResetEvent are
// compare-and-set operations: they return domain.ErrStatusConflict when the
// event is not in the expected status and domain.ErrNotFound when it does not
// exist. CommitAssignments writes every row and moves started→completed in a
// single transaction.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	ListRoster(ctx context.Context, id uuid.UUID) (domain.Roster, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.EventStatus, at time.Time) error
	CommitAssignments(ctx context.Context, id uuid.UUID, assignments []domain.Assignment, at time.Time) error
	FailEvent(ctx context.Context, id uuid.UUID, failure domain.Failure, at time.Time) error
	ResetEvent(ctx context.Context, id uuid.UUID, at time.Time) error
	ListAssignments(ctx context.Context, id uuid.UUID) ([]domain.Assignment, error)
}

// EventEmitter hands completed draws to the notifier.
type EventEmitter interface {
	Emit(ctx context.Context, notice domain.DrawCompleted) error
}

// AnalyticsSink records draw outcomes. Errors are logged and otherwise ignored.
type AnalyticsSink interface {
	RecordDraw(ctx context.Context, outcome string, participants int, at time.Time) error
}

// Coordinator runs each event's draw at most once, however many callers and
// processes ask for it.
type Coordinator struct {
	store   Store
	emitter EventEmitter

	flights singleflight.Group
	cache   *outcomeCache

	drawTimeout  time.Duration
	pollInterval time.Duration
	clock        func() time.Time
	newRand      func() *rand.Rand
	generate     func(*draw.Rules, *rand.Rand) (draw.Result, error)

	logger    *zap.Logger
	metrics   metrics.Sink
	analytics AnalyticsSink
	tracer    trace.Tracer
}

func New(store Store, emitter EventEmitter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:        store,
		emitter:      emitter,
		drawTimeout:  defaultDrawTimeout,
		pollInterval: defaultPollInterval,
		clock:        time.Now,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		generate: draw.Generate,
		logger:  logger,
		metrics: metrics.NewNoopSink(),
		tracer:  otel.Tracer(tracerName),
	}
}

// WithMetrics sets the metrics sink. If nil, metrics are disabled.
func (c *Coordinator) WithMetrics(sink metrics.Sink) *Coordinator {
	if sink != nil {
		c.metrics = sink
	}
	return c
}

// WithAnalytics sets the analytics sink. If nil, analytics are disabled.
func (c *Coordinator) WithAnalytics(sink AnalyticsSink) *Coordinator {
	c.analytics = sink
	return c
}

// WithOutcomeCache enables replaying completed draws from memory. A size of
// zero disables the cache.
func (c *Coordinator) WithOutcomeCache(sizeBytes int) *Coordinator {
	c.cache = newOutcomeCache(sizeBytes)
	return c
}

// WithTimeouts sets the deadline of a single draw and the interval at which
// callers poll a draw running in another process.
func (c *Coordinator) WithTimeouts(draw, poll time.Duration) *Coordinator {
	if draw > 0 {
		c.drawTimeout = draw
	}
	if poll > 0 {
		c.pollInterval = poll
	}
	return c
}

// WithClock replaces time.Now for status timestamps.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// WithRandSource replaces the per-draw random source. newRand is called once
// per draw and the returned generator is never shared.
func (c *Coordinator) WithRandSource(newRand func() *rand.Rand) *Coordinator {
	c.newRand = newRand
	return c
}

// WithTracerProvider sets where spans go. If nil, the global provider is kept.
func (c *Coordinator) WithTracerProvider(tp trace.TracerProvider) *Coordinator {
	if tp != nil {
		c.tracer = tp.Tracer(tracerName)
	}
	return c
}

// Start draws the event unless it already has a result, and returns that
// result. The error is nil for completed, already-completed and infeasible
// outcomes. It is domain.ErrNotFound for unknown events, ErrTimeout when ctx
// ends first, ErrDrawFailed for a stored operational failure, and otherwise
// wraps the cause of a failed draw.
func (c *Coordinator) Start(ctx context.Context, id uuid.UUID) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Start",
		trace.WithAttributes(attribute.String("event.id", id.String())),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	if assignments, ok := c.cache.get(id); ok {
		c.metrics.OutcomeCacheHit()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return Outcome{EventID: id, Status: StatusAlreadyCompleted, Assignments: assignments}, nil
	}

	// The flight outlives any single caller, so it runs detached from ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(id.String(), func() (any, error) {
		out, waited, err := c.resolve(flightCtx, id)
		return resolution{out: out, waited: waited}, err
	})

	select {
	case res := <-ch:
		r, _ := res.Val.(resolution)
		if res.Shared || r.waited {
			c.metrics.StartCoalesced()
		}
		endSpan(span, r.out, res.Err)
		return r.out, res.Err
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		endSpan(span, Outcome{}, err)
		return Outcome{EventID: id, Status: StatusError, Detail: err.Error()}, err
	}
}

func endSpan(span trace.Span, out Outcome, err error) {
	span.SetAttributes(attribute.String("draw.status", string(out.Status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// resolution is what a flight hands to every caller sharing it.
type resolution struct {
	out    Outcome
	waited bool
}

// resolve loops until the event is terminal or this caller wins the start
// transition and draws it. waited reports a completed draw that another
// process ran while this one polled.
func (c *Coordinator) resolve(ctx context.Context, id uuid.UUID) (Outcome, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.drawTimeout)
	defer cancel()

	polled := false
	for {
		ev, err := c.store.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return Outcome{}, false, err
			}
			if ctx.Err() != nil {
				return failed(id, ErrTimeout), false, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
			return failed(id, err), false, fmt.Errorf("%w: get event: %w", ErrPersistence, err)
		}

		switch ev.Status {
		case domain.EventStatusCompleted:
			out, err := c.replayCompleted(ctx, id)
			return out, polled && err == nil, err

		case domain.EventStatusFailed:
			out, err := c.replayFailed(ev)
			return out, false, err

		case domain.EventStatusCreated:
			err := c.store.TransitionStatus(ctx, id, domain.EventStatusCreated, domain.EventStatusStarted, c.clock().UTC())
			if err == nil {
				out, err := c.run(ctx, id)
				return out, false, err
			}
			if !errors.Is(err, domain.ErrStatusConflict) {
				return failed(id, err), false, fmt.Errorf("%w: start transition: %w", ErrPersistence, err)
			}
			c.logger.Debug("coordinator: lost start race", zap.Stringer("event_id", id))

		case domain.EventStatusStarted:
			// Another process is drawing.
		}

		polled = true
		select {
		case <-ctx.Done():
			return failed(id, ErrTimeout), false, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

// run owns the event while it is started. It must leave the event in
// created, completed or failed.
func (c *Coordinator) run(ctx context.Context, id uuid.UUID) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.draw", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	startedAt := c.clock()
	c.metrics.DrawStarted()
	c.logger.Info("coordinator: draw started", zap.Stringer("event_id", id))

	out, participants, err := c.draw(ctx, id)

	c.metrics.DrawFinished(string(out.Status), string(out.Strategy), participants, c.clock().Sub(startedAt))
	c.recordAnalytics(ctx, out, participants)
	span.SetAttributes(
		attribute.Int("draw.participants", participants),
		attribute.String("draw.strategy", string(out.Strategy)),
	)
	endSpan(span, out, err)
	return out, err
}

func (c *Coordinator) draw(ctx context.Context, id uuid.UUID) (Outcome, int, error) {
	roster, err := c.store.ListRoster(ctx, id)
	if err != nil {
		return c.fail(ctx, id, 0, domain.Failure{Kind: domain.FailureKindError, Reason: "roster unavailable"},
			fmt.Errorf("%w: list roster: %w", ErrPersistence, err))
	}
	n := len(roster.Participants)

	rules, err := draw.NewRules(roster)
	if err != nil {
		var verr *draw.ValidationError
		if !errors.As(err, &verr) {
			return c.fail(ctx, id, n, domain.Failure{Kind: domain.FailureKindError, Reason: err.Error()}, err)
		}
		return c.rollback(ctx, id, n, verr)
	}

	res, err := c.generate(rules, c.newRand())
	if err != nil {
		var ierr *draw.InfeasibleError
		if errors.As(err, &ierr) {
			out, _, ferr := c.fail(ctx, id, n, domain.Failure{Kind: domain.FailureKindInfeasible, Reason: ierr.Reason}, nil)
			if ferr != nil {
				return out, n, ferr
			}
			c.logger.Info("coordinator: draw infeasible",
				zap.Stringer("event_id", id), zap.Int("participants", n), zap.String("detail", ierr.Detail))
			return infeasible(id, ierr.Reason, ierr.Detail), n, nil
		}
		return c.fail(ctx, id, n, domain.Failure{Kind: domain.FailureKindError, Reason: "internal error"},
			fmt.Errorf("generated assignment rejected: %w", err))
	}

	if ctx.Err() != nil {
		return c.fail(ctx, id, n, domain.Failure{Kind: domain.FailureKindError, Reason: "timed out"},
			fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
	}

	completedAt := c.clock().UTC()
	assignments := make([]domain.Assignment, len(res.Pairs))
	for i, p := range res.Pairs {
		assignments[i] = domain.Assignment{EventID: id, GiverID: p.Giver, RecipientID: p.Recipient, CreatedAt: completedAt}
	}

	if err := c.store.CommitAssignments(ctx, id, assignments, completedAt); err != nil {
		out, _, ferr := c.fail(ctx, id, n, domain.Failure{Kind: domain.FailureKindError, Reason: "assignments could not be stored"},
			fmt.Errorf("%w: commit: %w", ErrPersistence, err))
		return out, n, ferr
	}

	c.logger.Info("coordinator: draw completed",
		zap.Stringer("event_id", id),
		zap.Int("participants", n),
		zap.String("strategy", string(res.Strategy)),
		zap.Int("attempts", res.Attempts),
	)
	c.cache.put(id, assignments)
	c.emit(ctx, id, assignments, completedAt)

	return Outcome{EventID: id, Status: StatusCompleted, Assignments: assignments, Strategy: res.Strategy}, n, nil
}

// rollback returns a roster that failed validation to created so it can be
// fixed and started again.
func (c *Coordinator) rollback(ctx context.Context, id uuid.UUID, n int, verr *draw.ValidationError) (Outcome, int, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	if err := c.store.TransitionStatus(writeCtx, id, domain.EventStatusStarted, domain.EventStatusCreated, c.clock().UTC()); err != nil {
		c.logger.Error("coordinator: rollback to created failed", zap.Stringer("event_id", id), zap.Error(err))
		return failed(id, err), n, fmt.Errorf("%w: rollback: %w", ErrPersistence, err)
	}
	c.logger.Info("coordinator: roster rejected", zap.Stringer("event_id", id), zap.String("reason", verr.Reason))
	return infeasible(id, verr.Reason, ""), n, nil
}

// fail moves the event to failed. If the event is no longer started, the
// commit may have landed despite the error, so the stored state wins.
func (c *Coordinator) fail(ctx context.Context, id uuid.UUID, n int, failure domain.Failure, cause error) (Outcome, int, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	err := c.store.FailEvent(writeCtx, id, failure, c.clock().UTC())
	switch {
	case err == nil:
		if cause != nil {
			c.logger.Error("coordinator: draw failed", zap.Stringer("event_id", id), zap.Error(cause))
			return failed(id, cause), n, cause
		}
		return Outcome{EventID: id, Status: StatusInfeasible, Reason: failure.Reason}, n, nil

	case errors.Is(err, domain.ErrStatusConflict):
		ev, gerr := c.store.GetEvent(writeCtx, id)
		if gerr == nil && ev.Status == domain.EventStatusCompleted {
			c.logger.Warn("coordinator: commit reported an error but landed", zap.Stringer("event_id", id), zap.NamedError("commit_error", cause))
			out, rerr := c.replayCompleted(writeCtx, id)
			if rerr == nil {
				out.Status = StatusCompleted
				c.emit(writeCtx, id, out.Assignments, derefTime(ev.CompletedAt))
			}
			return out, n, rerr
		}
		fallthrough

	default:
		c.logger.Error("coordinator: could not mark draw failed",
			zap.Stringer("event_id", id), zap.Error(err), zap.NamedError("cause", cause))
		if cause == nil {
			cause = err
		}
		return failed(id, cause), n, fmt.Errorf("%w: mark failed: %w", ErrPersistence, errors.Join(cause, err))
	}
}

func (c *Coordinator) replayCompleted(ctx context.Context, id uuid.UUID) (Outcome, error) {
	assignments, err := c.store.ListAssignments(ctx, id)
	if err != nil {
		return failed(id, err), fmt.Errorf("%w: list assignments: %w", ErrPersistence, err)
	}
	c.cache.put(id, assignments)
	return Outcome{EventID: id, Status: StatusAlreadyCompleted, Assignments: assignments}, nil
}

func (c *Coordinator) replayFailed(ev domain.Event) (Outcome, error) {
	if ev.Failure != nil && ev.Failure.Kind == domain.FailureKindInfeasible {
		return infeasible(ev.ID, ev.Failure.Reason, ""), nil
	}
	detail := "draw failed"
	if ev.Failure != nil && ev.Failure.Reason != "" {
		detail = ev.Failure.Reason
	}
	return Outcome{EventID: ev.ID, Status: StatusError, Detail: detail}, ErrDrawFailed
}

func (c *Coordinator) emit(ctx context.Context, id uuid.UUID, assignments []domain.Assignment, completedAt time.Time) {
	if c.emitter == nil {
		return
	}
	notice := domain.DrawCompleted{
		EventID:     id,
		Assignments: assignments,
		CompletedAt: completedAt,
		EmittedAt:   c.clock().UTC(),
	}
	if err := c.emitter.Emit(ctx, notice); err != nil {
		// The reconciler re-emits events that were never notified.
		c.logger.Warn("coordinator: emit failed", zap.Stringer("event_id", id), zap.Error(err))
	}
}

func (c *Coordinator) recordAnalytics(ctx context.Context, out Outcome, participants int) {
	if c.analytics == nil {
		return
	}
	if err := c.analytics.RecordDraw(ctx, string(out.Status), participants, c.clock().UTC()); err != nil {
		c.logger.Warn("coordinator: analytics write failed", zap.Stringer("event_id", out.EventID), zap.Error(err))
	}
}

// Reset returns a failed event to created. Any other status is rejected with
// a *domain.TransitionError.
func (c *Coordinator) Reset(ctx context.Context, id uuid.UUID) error {
	ev, err := c.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if ev.Status != domain.EventStatusFailed {
		return &domain.TransitionError{From: ev.Status, To: domain.EventStatusCreated}
	}

	if err := c.store.ResetEvent(ctx, id, c.clock().UTC()); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return &domain.TransitionError{From: ev.Status, To: domain.EventStatusCreated}
		}
		return err
	}
	c.logger.Info("coordinator: event reset", zap.Stringer("event_id", id))
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
