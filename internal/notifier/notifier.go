// Package notifier tells every giver whom they drew once a draw has completed.
// Each (event, giver) pair is delivered as its own signed webhook carrying a
// stable delivery ID, so receivers can drop the duplicates that retries and
// reconciler re-emits produce.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/circuitbreaker"
	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/metrics"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

// DefaultDrainTimeout bounds how long buffered notices are processed after shutdown.
const DefaultDrainTimeout = 30 * time.Second

// ErrUndelivered is returned when at least one giver could not be notified.
// The event stays unnotified and the reconciler re-emits it later.
var ErrUndelivered = errors.New("notifications undelivered")

type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	ListParticipants(ctx context.Context, eventID uuid.UUID) ([]domain.Participant, error)
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error
}

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// Endpoint is where notifications are posted. An empty URL disables delivery.
type Endpoint struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

type WebhookRequest struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Payload WebhookPayload
}

type WebhookPayload struct {
	DeliveryID  string           `json:"delivery_id"`
	Event       EventPayload     `json:"event"`
	Giver       GiverPayload     `json:"giver"`
	Recipient   RecipientPayload `json:"recipient"`
	CompletedAt string           `json:"completed_at"`
}

type EventPayload struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	EventDate  string              `json:"event_date"`
	PriceLimit decimal.NullDecimal `json:"price_limit"`
}

type GiverPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RecipientPayload omits the email: the giver only needs to know who.
type RecipientPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if errors.Is(r.Error, circuitbreaker.ErrCircuitOpen) {
		return false
	}
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

// DeliveryID is the stable identifier of the notification for giver in event.
func DeliveryID(eventID, giverID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(eventID, giverID[:])
}

type Notifier struct {
	store        Store
	sender       WebhookSender
	endpoint     Endpoint
	breakerKey   string
	breaker      *circuitbreaker.CircuitBreaker // optional, nil = disabled
	metrics      metrics.Sink
	logger       *zap.Logger
	backoff      []time.Duration
	drainTimeout time.Duration
	clock        func() time.Time
}

func New(store Store, sender WebhookSender, endpoint Endpoint, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := endpoint.URL
	if u, err := url.Parse(endpoint.URL); err == nil && u.Host != "" {
		key = u.Host
	}
	return &Notifier{
		store:        store,
		sender:       sender,
		endpoint:     endpoint,
		breakerKey:   key,
		metrics:      metrics.NewNoopSink(),
		logger:       logger,
		backoff:      defaultBackoff,
		drainTimeout: DefaultDrainTimeout,
		clock:        time.Now,
	}
}

func (n *Notifier) WithMetrics(sink metrics.Sink) *Notifier {
	if sink != nil {
		n.metrics = sink
	}
	return n
}

// WithCircuitBreaker stops deliveries to the endpoint host while it keeps failing.
func (n *Notifier) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Notifier {
	n.breaker = cb
	return n
}

func (n *Notifier) WithBackoff(backoff []time.Duration) *Notifier {
	if len(backoff) > 0 {
		n.backoff = backoff
	}
	return n
}

func (n *Notifier) WithDrainTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.drainTimeout = d
	}
	return n
}

func (n *Notifier) WithClock(clock func() time.Time) *Notifier {
	n.clock = clock
	return n
}

// Run processes notices until ctx is cancelled, then drains what is buffered.
func (n *Notifier) Run(ctx context.Context, ch <-chan domain.DrawCompleted) {
	for {
		select {
		case <-ctx.Done():
			n.drain(ch)
			return
		case notice, ok := <-ch:
			if !ok {
				return
			}
			if err := n.Notify(ctx, notice); err != nil {
				n.logger.Warn("notifier: notify failed", zap.Stringer("event_id", notice.EventID), zap.Error(err))
			}
		}
	}
}

func (n *Notifier) drain(ch <-chan domain.DrawCompleted) {
	drainCtx, cancel := context.WithTimeout(context.Background(), n.drainTimeout)
	defer cancel()

	count := 0
	defer func() {
		if count > 0 {
			n.logger.Info("notifier: drain complete", zap.Int("processed", count))
		}
	}()
	for {
		select {
		case <-drainCtx.Done():
			n.logger.Warn("notifier: drain timeout", zap.Int("processed", count))
			return
		case notice, ok := <-ch:
			if !ok {
				return
			}
			if err := n.Notify(drainCtx, notice); err != nil {
				n.logger.Warn("notifier: drain notify failed", zap.Stringer("event_id", notice.EventID), zap.Error(err))
			}
			count++
		default:
			return
		}
	}
}

// Notify delivers one webhook per giver of notice and marks the event notified
// once every giver has been reached.
func (n *Notifier) Notify(ctx context.Context, notice domain.DrawCompleted) error {
	n.metrics.NoticesInFlightIncr()
	defer n.metrics.NoticesInFlightDecr()

	ev, err := n.store.GetEvent(ctx, notice.EventID)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	if ev.NotifiedAt != nil {
		n.logger.Debug("notifier: already notified", zap.Stringer("event_id", ev.ID))
		return nil
	}

	if n.endpoint.URL == "" {
		n.logger.Info("notifier: no webhook URL configured, marking notified",
			zap.Stringer("event_id", ev.ID), zap.Int("givers", len(notice.Assignments)))
		return n.markNotified(ctx, ev.ID)
	}

	participants, err := n.store.ListParticipants(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	byID := make(map[uuid.UUID]domain.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	completedAt := notice.CompletedAt
	if ev.CompletedAt != nil {
		completedAt = *ev.CompletedAt
	}

	undelivered := 0
	for _, a := range notice.Assignments {
		giver, okG := byID[a.GiverID]
		recipient, okR := byID[a.RecipientID]
		if !okG || !okR {
			return fmt.Errorf("assignment %s -> %s references unknown participant: %w", a.GiverID, a.RecipientID, domain.ErrNotFound)
		}

		req := WebhookRequest{
			URL:     n.endpoint.URL,
			Secret:  n.endpoint.Secret,
			Timeout: n.endpoint.Timeout,
			Payload: buildPayload(ev, giver, recipient, completedAt),
		}
		if err := n.deliver(ctx, req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			undelivered++
		}
	}

	if undelivered > 0 {
		return fmt.Errorf("event %s: %d of %d: %w", ev.ID, undelivered, len(notice.Assignments), ErrUndelivered)
	}
	return n.markNotified(ctx, ev.ID)
}

func (n *Notifier) markNotified(ctx context.Context, id uuid.UUID) error {
	if err := n.store.MarkNotified(ctx, id, n.clock().UTC()); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func buildPayload(ev domain.Event, giver, recipient domain.Participant, completedAt time.Time) WebhookPayload {
	return WebhookPayload{
		DeliveryID: DeliveryID(ev.ID, giver.ID).String(),
		Event: EventPayload{
			ID:         ev.ID.String(),
			Name:       ev.Name,
			EventDate:  ev.EventDate.Format(time.DateOnly),
			PriceLimit: ev.PriceLimit,
		},
		Giver: GiverPayload{
			ID:    giver.ID.String(),
			Name:  giver.Name,
			Email: giver.Email,
		},
		Recipient: RecipientPayload{
			ID:   recipient.ID.String(),
			Name: recipient.Name,
		},
		CompletedAt: completedAt.UTC().Format(time.RFC3339),
	}
}

// deliver sends req with retries and returns nil once the receiver accepted it.
func (n *Notifier) deliver(ctx context.Context, req WebhookRequest) error {
	log := n.logger.With(zap.String("event_id", req.Payload.Event.ID), zap.String("delivery_id", req.Payload.DeliveryID))

	var last WebhookResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			n.metrics.RetryAttempt(last.IsRetryable())

			idx := attempt - 1
			if idx >= len(n.backoff) {
				idx = len(n.backoff) - 1
			}
			wait := n.backoff[idx]
			log.Debug("notifier: retrying", zap.Int("attempt", attempt), zap.Duration("backoff", wait))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				n.metrics.DeliveryOutcome(metrics.OutcomeAbandoned)
				return ctx.Err()
			case <-timer.C:
			}
		}

		last = n.send(ctx, req)
		n.metrics.DeliveryAttemptCompleted(attempt, metrics.ClassifyStatus(last.StatusCode, last.Error), last.Duration)

		if last.IsSuccess() {
			n.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
			log.Debug("notifier: delivered", zap.Int("attempt", attempt))
			return nil
		}
		if errors.Is(last.Error, circuitbreaker.ErrCircuitOpen) {
			n.metrics.DeliveryOutcome(metrics.OutcomeAbandoned)
			log.Warn("notifier: circuit open, giving up", zap.Error(last.Error))
			return last.Error
		}
		if !last.IsRetryable() {
			log.Warn("notifier: non-retryable response", zap.Int("status", last.StatusCode))
			break
		}
		log.Info("notifier: attempt failed", zap.Int("attempt", attempt), zap.Int("status", last.StatusCode), zap.Error(last.Error))
	}

	n.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	if last.Error != nil {
		return last.Error
	}
	return fmt.Errorf("webhook responded %d", last.StatusCode)
}

func (n *Notifier) send(ctx context.Context, req WebhookRequest) WebhookResult {
	if n.breaker != nil {
		if err := n.breaker.Allow(n.breakerKey); err != nil {
			return WebhookResult{Error: err}
		}
	}
	result := n.sender.Send(ctx, req)
	if n.breaker != nil {
		// 4xx means the endpoint is up and rejected this payload.
		if result.IsSuccess() || (result.Error == nil && result.StatusCode < 500 && result.StatusCode != 429) {
			n.breaker.RecordSuccess(n.breakerKey)
		} else {
			n.breaker.RecordFailure(n.breakerKey)
		}
	}
	return result
}
