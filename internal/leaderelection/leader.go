// Package leaderelection picks the single instance that runs the background
// sweeps (reconciler, autostart) using a Postgres advisory lock.
//
// The lock is session-scoped and held for the lifetime of one dedicated
// connection. There is no TTL or renewal: if the connection dies, Postgres
// releases the lock server-side. The heartbeat ping only detects local
// connection loss so duties stop promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/metrics"
)

// Duties runs while this instance leads. ctx is cancelled on demotion and
// Duties must return promptly afterwards.
type Duties func(ctx context.Context)

type Config struct {
	LockKey           int64
	RetryInterval     time.Duration // follower: how often to try the lock
	HeartbeatInterval time.Duration // leader: how often to ping the connection
}

type Elector struct {
	db      *sql.DB
	config  Config
	leader  atomic.Bool
	metrics metrics.Sink
	logger  *zap.Logger
}

func New(db *sql.DB, config Config, logger *zap.Logger) *Elector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elector{
		db:      db,
		config:  config,
		metrics: metrics.NewNoopSink(),
		logger:  logger,
	}
}

func (e *Elector) WithMetrics(sink metrics.Sink) *Elector {
	if sink != nil {
		e.metrics = sink
	}
	return e
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run competes for the lock until ctx is cancelled and runs duties for every
// term this instance leads.
func (e *Elector) Run(ctx context.Context, duties Duties) {
	e.logger.Info("leader: election loop started",
		zap.Int64("lock_key", e.config.LockKey),
		zap.Duration("retry", e.config.RetryInterval),
		zap.Duration("heartbeat", e.config.HeartbeatInterval))
	defer e.logger.Info("leader: election loop stopped")

	for ctx.Err() == nil {
		if reason := e.term(ctx, duties); reason != "" && ctx.Err() == nil {
			e.logger.Warn("leader: lost leadership", zap.String("reason", reason), zap.Duration("retry_in", e.config.RetryInterval))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// term tries the lock once and, if acquired, holds it until the connection or
// ctx ends. It returns why leadership ended, or "" when the lock was not won.
func (e *Elector) term(ctx context.Context, duties Duties) string {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Warn("leader: dedicated connection", zap.Error(err))
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.config.LockKey).Scan(&acquired); err != nil {
		e.logger.Warn("leader: advisory lock query", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("leader: lock held elsewhere", zap.Int64("lock_key", e.config.LockKey))
		return ""
	}

	e.logger.Info("leader: acquired lock", zap.Int64("lock_key", e.config.LockKey))
	e.leader.Store(true)
	e.metrics.LeaderStatus(true)

	leaderCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		duties(leaderCtx)
	}()

	reason := e.hold(ctx, conn)

	cancel()
	wg.Wait()
	e.leader.Store(false)
	e.metrics.LeaderStatus(false)

	if reason == "shutdown" {
		// Unlock explicitly so a peer can take over without waiting for the
		// session to end.
		unlockCtx, cancelUnlock := context.WithTimeout(context.Background(), time.Second)
		defer cancelUnlock()
		_, _ = conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", e.config.LockKey)
	}
	e.logger.Info("leader: released lock", zap.Int64("lock_key", e.config.LockKey), zap.String("reason", reason))
	return reason
}

func (e *Elector) hold(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				e.logger.Warn("leader: heartbeat failed", zap.Error(err))
				return "conn_lost"
			}
		}
	}
}
