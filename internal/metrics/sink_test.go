package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		want       string
	}{
		{"200 OK", 200, nil, StatusClass2xx},
		{"204 No Content", 204, nil, StatusClass2xx},
		{"299 boundary", 299, nil, StatusClass2xx},
		{"404 Not Found", 404, nil, StatusClass4xx},
		{"429 Rate Limit", 429, nil, StatusClass4xx},
		{"500 Internal Server Error", 500, nil, StatusClass5xx},
		{"503 Service Unavailable", 503, nil, StatusClass5xx},
		{"302 redirect", 302, nil, StatusClassOtherError},

		{"wrapped deadline", 0, fmt.Errorf("post: %w", context.DeadlineExceeded), StatusClassTimeout},
		{"net timeout", 0, timeoutErr{}, StatusClassTimeout},
		{"Timeout in message", 0, errors.New("Client.Timeout exceeded"), StatusClassTimeout},
		{"connection refused", 0, errors.New("connect: connection refused"), StatusClassConnectionError},
		{"no such host", 0, errors.New("lookup x: no such host"), StatusClassConnectionError},
		{"dial error", 0, errors.New("dial tcp 127.0.0.1:80"), StatusClassConnectionError},
		{"breaker", 0, errors.New("circuit open for hooks.example.com"), StatusClassCircuitOpen},
		{"generic error", 0, errors.New("unknown error"), StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.statusCode, tt.err))
		})
	}
}

func TestNoopSink_AllMethods(t *testing.T) {
	s := NewNoopSink()

	assert.NotPanics(t, func() {
		s.DrawStarted()
		s.DrawFinished("completed", "rejection", 4, time.Millisecond)
		s.StartCoalesced()
		s.OutcomeCacheHit()
		s.DeliveryAttemptCompleted(1, StatusClass2xx, time.Millisecond)
		s.DeliveryOutcome(OutcomeSuccess)
		s.RetryAttempt(true)
		s.NoticesInFlightIncr()
		s.NoticesInFlightDecr()
		s.BufferSizeUpdate(3)
		s.BufferCapacitySet(100)
		s.EmitError()
		s.ReconcileCycle(1, 2, nil)
		s.SweepCompleted(time.Second, 1, errors.New("x"))
		s.LeaderStatus(true)
	})
}
