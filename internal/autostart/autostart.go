// Package autostart starts draws whose scheduled draw time has passed.
//
// A sweep runs on a cron schedule, lists created events with draw_at <= now
// and hands each to the coordinator, which makes the start exclusive. An
// event whose roster is not ready (too few accepted participants) goes back
// to created and is picked up again by the next sweep.
package autostart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/coordinator"
	"github.com/djlord-it/wichtel/internal/cron"
	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/metrics"
)

type Store interface {
	ListDueEvents(ctx context.Context, now time.Time, limit int) ([]domain.Event, error)
}

type Starter interface {
	Start(ctx context.Context, id uuid.UUID) (coordinator.Outcome, error)
}

type Config struct {
	// Schedule is a five-field cron expression or descriptor.
	Schedule string

	// Timezone the schedule is evaluated in. Empty means UTC.
	Timezone string

	// BatchSize caps the events started per sweep.
	BatchSize int
}

type Sweeper struct {
	config   Config
	schedule cron.Schedule
	store    Store
	starter  Starter
	metrics  metrics.Sink
	logger   *zap.Logger
	clock    func() time.Time
}

// New parses the configured schedule and fails on an invalid expression.
func New(config Config, store Store, starter Starter, logger *zap.Logger) (*Sweeper, error) {
	sched, err := cron.NewParser().Parse(config.Schedule, config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("autostart: %w", err)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		config:   config,
		schedule: sched,
		store:    store,
		starter:  starter,
		metrics:  metrics.NewNoopSink(),
		logger:   logger,
		clock:    time.Now,
	}, nil
}

func (s *Sweeper) WithMetrics(sink metrics.Sink) *Sweeper {
	if sink != nil {
		s.metrics = sink
	}
	return s
}

func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps at every activation of the schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("autostart: started", zap.String("schedule", s.config.Schedule))

	for {
		now := s.clock()
		wait := s.schedule.Next(now).Sub(now)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("autostart: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("autostart: sweep error", zap.Error(err))
		}
	}
}

// Sweep starts every due event once and returns how many ended completed.
func (s *Sweeper) Sweep(ctx context.Context) (started int, err error) {
	begin := s.clock()
	defer func() { s.metrics.SweepCompleted(s.clock().Sub(begin), started, err) }()

	due, err := s.store.ListDueEvents(ctx, begin.UTC(), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due events: %w", err)
	}

	var errs []error
	for _, ev := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		log := s.logger.With(zap.Stringer("event_id", ev.ID))
		out, err := s.starter.Start(ctx, ev.ID)
		switch {
		case err == nil && out.Completed():
			log.Info("autostart: draw completed", zap.String("status", string(out.Status)), zap.Int("assignments", len(out.Assignments)))
			started++
		case err == nil:
			log.Info("autostart: draw not possible", zap.String("reason", out.Reason), zap.String("detail", out.Detail))
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, coordinator.ErrDrawFailed):
			log.Debug("autostart: skipped", zap.Error(err))
		default:
			log.Warn("autostart: start failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("event %s: %w", ev.ID, err))
		}
	}
	return started, errors.Join(errs...)
}
