// Package reconciler repairs events left behind by a crashed or stalled process.
//
// Two kinds of leftovers exist. A draw stuck in status 'started' belongs to a
// process that died between claiming the event and committing; assignments
// are written in a single transaction, so no partial rows can exist and the
// event is failed with kind 'error' until someone resets it. A completed
// event that was never notified lost its DrawCompleted notice (bus full,
// crash, undeliverable webhook); the notice is rebuilt from the stored
// assignments and emitted again. The notifier drops notices for events that
// are already notified, and receivers dedupe by delivery ID.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/metrics"
)

// AbandonedReason is stored on events failed by the reconciler.
const AbandonedReason = "draw abandoned: no result within the reconcile threshold"

type Store interface {
	ListStaleDraws(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Event, error)
	FailEvent(ctx context.Context, id uuid.UUID, failure domain.Failure, at time.Time) error
	ListUnnotified(ctx context.Context, completedBefore time.Time, limit int) ([]domain.Event, error)
	ListAssignments(ctx context.Context, id uuid.UUID) ([]domain.Assignment, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, notice domain.DrawCompleted) error
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 1 minute.
	Interval time.Duration

	// Threshold is how long an event may stay in 'started' before it is
	// considered abandoned. It must exceed the coordinator's draw timeout.
	// Default: 5 minutes.
	Threshold time.Duration

	// NotifyThreshold is how long after completion an unnotified event is
	// re-emitted. It should exceed the notifier's total retry backoff.
	// Default: 15 minutes.
	NotifyThreshold time.Duration

	// BatchSize caps the events handled per query per cycle.
	// Default: 100.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:        time.Minute,
		Threshold:       5 * time.Minute,
		NotifyThreshold: 15 * time.Minute,
		BatchSize:       100,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics metrics.Sink
	logger  *zap.Logger
	clock   func() time.Time
}

func New(config Config, store Store, emitter EventEmitter, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		metrics: metrics.NewNoopSink(),
		logger:  logger,
		clock:   time.Now,
	}
}

func (r *Reconciler) WithMetrics(sink metrics.Sink) *Reconciler {
	if sink != nil {
		r.metrics = sink
	}
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run reconciles once immediately and then every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler: started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("threshold", r.config.Threshold),
		zap.Duration("notify_threshold", r.config.NotifyThreshold),
		zap.Int("batch", r.config.BatchSize))

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes one reconciliation cycle and reports what it did.
func (r *Reconciler) RunOnce(ctx context.Context) (staleFailed, reemitted int, err error) {
	defer func() { r.metrics.ReconcileCycle(staleFailed, reemitted, err) }()

	now := r.clock().UTC()

	staleFailed, staleErr := r.failStale(ctx, now)
	reemitted, emitErr := r.reemitUnnotified(ctx, now)
	err = errors.Join(staleErr, emitErr)

	if err != nil {
		r.logger.Warn("reconciler: cycle incomplete", zap.Error(err))
	}
	if staleFailed > 0 || reemitted > 0 {
		r.logger.Info("reconciler: cycle complete", zap.Int("stale_failed", staleFailed), zap.Int("reemitted", reemitted))
	}
	return staleFailed, reemitted, err
}

func (r *Reconciler) failStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := r.store.ListStaleDraws(ctx, now.Add(-r.config.Threshold), r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale draws: %w", err)
	}

	failed := 0
	for _, ev := range stale {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}

		failure := domain.Failure{Kind: domain.FailureKindError, Reason: AbandonedReason}
		err := r.store.FailEvent(ctx, ev.ID, failure, now)
		switch {
		case errors.Is(err, domain.ErrStatusConflict):
			// The draw finished after the query ran.
			continue
		case err != nil:
			r.logger.Warn("reconciler: fail stale draw", zap.Stringer("event_id", ev.ID), zap.Error(err))
			continue
		}

		var age time.Duration
		if ev.StartedAt != nil {
			age = now.Sub(*ev.StartedAt).Round(time.Second)
		}
		r.logger.Warn("reconciler: failed abandoned draw", zap.Stringer("event_id", ev.ID), zap.Duration("age", age))
		failed++
	}
	return failed, nil
}

func (r *Reconciler) reemitUnnotified(ctx context.Context, now time.Time) (int, error) {
	events, err := r.store.ListUnnotified(ctx, now.Add(-r.config.NotifyThreshold), r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unnotified: %w", err)
	}

	emitted := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return emitted, ctx.Err()
		}

		assignments, err := r.store.ListAssignments(ctx, ev.ID)
		if err != nil {
			r.logger.Warn("reconciler: list assignments", zap.Stringer("event_id", ev.ID), zap.Error(err))
			continue
		}

		notice := domain.DrawCompleted{
			EventID:     ev.ID,
			Assignments: assignments,
			EmittedAt:   now,
		}
		if ev.CompletedAt != nil {
			notice.CompletedAt = *ev.CompletedAt
		}
		if err := r.emitter.Emit(ctx, notice); err != nil {
			// Retried next cycle.
			r.logger.Warn("reconciler: re-emit", zap.Stringer("event_id", ev.ID), zap.Error(err))
			continue
		}
		r.logger.Info("reconciler: re-emitted completed draw", zap.Stringer("event_id", ev.ID), zap.Int("assignments", len(assignments)))
		emitted++
	}
	return emitted, nil
}
