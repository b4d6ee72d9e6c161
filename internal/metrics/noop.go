package metrics

import "time"

// NoopSink discards everything. Components default to it so they never nil-check.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) DrawStarted()                                                              {}
func (n *NoopSink) DrawFinished(outcome, strategy string, participants int, d time.Duration)  {}
func (n *NoopSink) StartCoalesced()                                                           {}
func (n *NoopSink) OutcomeCacheHit()                                                          {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) NoticesInFlightIncr()                                                      {}
func (n *NoopSink) NoticesInFlightDecr()                                                      {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                            {}
func (n *NoopSink) EmitError()                                                                {}
func (n *NoopSink) ReconcileCycle(staleFailed, reemitted int, err error)                      {}
func (n *NoopSink) SweepCompleted(d time.Duration, started int, err error)                    {}
func (n *NoopSink) LeaderStatus(leader bool)                                                  {}

var _ Sink = (*NoopSink)(nil)
