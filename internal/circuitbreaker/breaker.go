// Package circuitbreaker stops webhook deliveries to an endpoint that keeps
// failing, and lets a single probe through once the cooldown has passed.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

type endpoint struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks consecutive failures per key, usually the webhook host.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New returns a breaker that opens after threshold consecutive failures and
// allows a probe after cooldown. A threshold below 1 disables the breaker.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow returns an error wrapping ErrCircuitOpen while key is open or while its
// half-open probe is in flight.
func (cb *CircuitBreaker) Allow(key string) error {
	if cb.threshold < 1 {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[key]
	if !ok {
		return nil
	}

	switch e.state {
	case StateOpen:
		if cb.clock().Sub(e.openedAt) >= cb.cooldown {
			e.state = StateHalfOpen
			return nil
		}
		return fmt.Errorf("%w for %s", ErrCircuitOpen, key)
	case StateHalfOpen:
		return fmt.Errorf("%w for %s", ErrCircuitOpen, key)
	}
	return nil
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Closed with no failures is the same as untracked.
	delete(cb.endpoints, key)
}

// RecordFailure counts a failure. A failed half-open probe reopens the
// circuit immediately.
func (cb *CircuitBreaker) RecordFailure(key string) {
	if cb.threshold < 1 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[key]
	if !ok {
		e = &endpoint{state: StateClosed}
		cb.endpoints[key] = e
	}

	e.consecutiveFailures++
	if e.state == StateHalfOpen || e.consecutiveFailures >= cb.threshold {
		e.state = StateOpen
		e.openedAt = cb.clock()
	}
}

func (cb *CircuitBreaker) State(key string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if e, ok := cb.endpoints[key]; ok {
		return e.state
	}
	return StateClosed
}
