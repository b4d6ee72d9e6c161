// Package nats carries DrawCompleted notices over a NATS subject so that the
// instance delivering notifications need not be the one that ran the draw.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/metrics"
)

// QueueGroup load-balances notices across every subscribed instance.
const QueueGroup = "wichtel-notifier"

const defaultFlushTimeout = 2 * time.Second

type wireAssignment struct {
	GiverID     uuid.UUID `json:"giver_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type wireNotice struct {
	EventID     uuid.UUID        `json:"event_id"`
	Assignments []wireAssignment `json:"assignments"`
	CompletedAt time.Time        `json:"completed_at"`
	EmittedAt   time.Time        `json:"emitted_at"`
}

// Bus publishes notices to a subject and feeds notices received on that
// subject into Channel. The channel is never closed.
type Bus struct {
	conn         *natsgo.Conn
	subject      string
	flushTimeout time.Duration
	logger       *zap.Logger
	metrics      metrics.Sink

	sub  *natsgo.Subscription
	ch   chan domain.DrawCompleted
	done chan struct{}
}

type Option func(*Bus)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(sink metrics.Sink) Option {
	return func(b *Bus) {
		if sink != nil {
			b.metrics = sink
		}
	}
}

func WithFlushTimeout(d time.Duration) Option {
	return func(b *Bus) { b.flushTimeout = d }
}

// New subscribes to subject in QueueGroup.
func New(conn *natsgo.Conn, subject string, buffer int, opts ...Option) (*Bus, error) {
	b := &Bus{
		conn:         conn,
		subject:      subject,
		flushTimeout: defaultFlushTimeout,
		logger:       zap.NewNop(),
		metrics:      metrics.NewNoopSink(),
		ch:           make(chan domain.DrawCompleted, buffer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.BufferCapacitySet(buffer)

	sub, err := conn.QueueSubscribe(subject, QueueGroup, b.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.sub = sub
	return b, nil
}

// Emit publishes notice and waits for the server to acknowledge the flush.
func (b *Bus) Emit(ctx context.Context, notice domain.DrawCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := wireNotice{
		EventID:     notice.EventID,
		Assignments: make([]wireAssignment, 0, len(notice.Assignments)),
		CompletedAt: notice.CompletedAt,
		EmittedAt:   notice.EmittedAt,
	}
	for _, a := range notice.Assignments {
		msg.Assignments = append(msg.Assignments, wireAssignment{
			GiverID:     a.GiverID,
			RecipientID: a.RecipientID,
			CreatedAt:   a.CreatedAt,
		})
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.metrics.EmitError()
		return fmt.Errorf("encode notice: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		b.metrics.EmitError()
		return fmt.Errorf("publish: %w", err)
	}
	if err := b.conn.FlushTimeout(b.flushTimeout); err != nil {
		b.metrics.EmitError()
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (b *Bus) receive(m *natsgo.Msg) {
	var msg wireNotice
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		b.logger.Warn("nats: dropping malformed notice", zap.String("subject", m.Subject), zap.Error(err))
		return
	}

	notice := domain.DrawCompleted{
		EventID:     msg.EventID,
		Assignments: make([]domain.Assignment, 0, len(msg.Assignments)),
		CompletedAt: msg.CompletedAt,
		EmittedAt:   msg.EmittedAt,
	}
	for _, a := range msg.Assignments {
		notice.Assignments = append(notice.Assignments, domain.Assignment{
			EventID:     msg.EventID,
			GiverID:     a.GiverID,
			RecipientID: a.RecipientID,
			CreatedAt:   a.CreatedAt,
		})
	}

	select {
	case b.ch <- notice:
		b.metrics.BufferSizeUpdate(len(b.ch))
	case <-b.done:
	}
}

func (b *Bus) Channel() <-chan domain.DrawCompleted {
	return b.ch
}

// Close unsubscribes. Notices still queued in Channel remain readable.
func (b *Bus) Close() error {
	close(b.done)
	return b.sub.Unsubscribe()
}
