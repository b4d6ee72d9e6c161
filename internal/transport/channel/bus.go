package channel

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/metrics"
)

// ErrBufferFull is returned when a notice cannot be queued within the emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

const defaultEmitTimeout = 100 * time.Millisecond

// EventBus is an in-process queue of completed draws.
type EventBus struct {
	ch          chan domain.DrawCompleted
	emitTimeout time.Duration
	metrics     metrics.Sink
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

func WithMetrics(sink metrics.Sink) Option {
	return func(b *EventBus) {
		if sink != nil {
			b.metrics = sink
		}
	}
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.DrawCompleted, buffer),
		emitTimeout: defaultEmitTimeout,
		metrics:     metrics.NewNoopSink(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.BufferCapacitySet(buffer)
	return b
}

// Emit queues notice. It gives up with ErrBufferFull after the emit timeout so
// that a stalled consumer never blocks a draw; the reconciler re-emits
// unnotified draws later.
func (b *EventBus) Emit(ctx context.Context, notice domain.DrawCompleted) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- notice:
		b.metrics.BufferSizeUpdate(len(b.ch))
		return nil
	case <-ctx.Done():
		b.metrics.EmitError()
		return ctx.Err()
	case <-timer.C:
		b.metrics.EmitError()
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.DrawCompleted {
	return b.ch
}

// Close stops delivery. Emit must not be called afterwards.
func (b *EventBus) Close() error {
	close(b.ch)
	return nil
}
