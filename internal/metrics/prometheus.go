package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "wichtel"

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Coordinator metrics
	drawsStarted     prometheus.Counter
	drawsTotal       *prometheus.CounterVec
	drawDuration     prometheus.Histogram
	drawParticipants prometheus.Histogram
	startsCoalesced  prometheus.Counter
	cacheHits        prometheus.Counter

	// Notifier metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec
	noticesInFlight       prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Background loops
	reconcileCycles  *prometheus.CounterVec
	staleDrawsFailed prometheus.Counter
	noticesReemitted prometheus.Counter
	sweepsTotal      *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	autostartedTotal prometheus.Counter
	leaderStatus     prometheus.Gauge
}

// NewPrometheusSink creates a sink whose collectors are registered on reg.
// A collector that fails to register keeps working but is not exported.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger}
	s.initCoordinatorMetrics(reg)
	s.initNotifierMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initBackgroundMetrics(reg)
	return s
}

func (s *PrometheusSink) initCoordinatorMetrics(reg prometheus.Registerer) {
	s.drawsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "coordinator", Name: "draws_started_total",
		Help: "Total number of draws that won the created->started transition.",
	})
	s.drawsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "coordinator", Name: "draws_total",
		Help: "Total number of finished draws by outcome and generator strategy.",
	}, []string{"outcome", "strategy"})
	s.drawDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "coordinator", Name: "draw_duration_seconds",
		Help:    "Time from winning the start transition to a terminal state.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
	s.drawParticipants = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "coordinator", Name: "draw_participants",
		Help:    "Eligible roster size per draw.",
		Buckets: []float64{2, 4, 8, 16, 32, 64, 128, 512},
	})
	s.startsCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "coordinator", Name: "starts_coalesced_total",
		Help: "Start calls that observed another caller's draw instead of running one.",
	})
	s.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "coordinator", Name: "outcome_cache_hits_total",
		Help: "Start calls answered from the completed-outcome cache.",
	})

	s.register(reg, s.drawsStarted, "coordinator_draws_started_total")
	s.register(reg, s.drawsTotal, "coordinator_draws_total")
	s.register(reg, s.drawDuration, "coordinator_draw_duration_seconds")
	s.register(reg, s.drawParticipants, "coordinator_draw_participants")
	s.register(reg, s.startsCoalesced, "coordinator_starts_coalesced_total")
	s.register(reg, s.cacheHits, "coordinator_outcome_cache_hits_total")
}

func (s *PrometheusSink) initNotifierMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "delivery_attempts_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"attempt", "status_class"})
	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "delivery_outcomes_total",
		Help: "Final delivery outcome per giver notification.",
	}, []string{"outcome"})
	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "webhook_duration_seconds",
		Help:    "Webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})
	s.noticesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "notifier", Name: "notices_in_flight",
		Help: "Completed draws currently being delivered.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "notifier_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "notifier_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "notifier_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "notifier_retry_attempts_total")
	s.register(reg, s.noticesInFlight, "notifier_notices_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "buffer_size",
		Help: "Current number of notices in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "emit_errors_total",
		Help: "Total number of notices that could not be emitted.",
	})

	s.register(reg, s.bufferSize, "eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "eventbus_emit_errors_total")
}

func (s *PrometheusSink) initBackgroundMetrics(reg prometheus.Registerer) {
	s.reconcileCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reconciler", Name: "cycles_total",
		Help: "Reconciler cycles by result.",
	}, []string{"result"})
	s.staleDrawsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reconciler", Name: "stale_draws_failed_total",
		Help: "Draws stuck in started that were moved to failed.",
	})
	s.noticesReemitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reconciler", Name: "notices_reemitted_total",
		Help: "Completed but unnotified draws whose notice was emitted again.",
	})
	s.sweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "autostart", Name: "sweeps_total",
		Help: "Autostart sweeps by result.",
	}, []string{"result"})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "autostart", Name: "sweep_duration_seconds",
		Help:    "Duration of each autostart sweep.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
	s.autostartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "autostart", Name: "events_started_total",
		Help: "Events started by the autostart sweep.",
	})
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "leader", Name: "is_leader",
		Help: "1 while this instance holds the leader lock.",
	})

	s.register(reg, s.reconcileCycles, "reconciler_cycles_total")
	s.register(reg, s.staleDrawsFailed, "reconciler_stale_draws_failed_total")
	s.register(reg, s.noticesReemitted, "reconciler_notices_reemitted_total")
	s.register(reg, s.sweepsTotal, "autostart_sweeps_total")
	s.register(reg, s.sweepDuration, "autostart_sweep_duration_seconds")
	s.register(reg, s.autostartedTotal, "autostart_events_started_total")
	s.register(reg, s.leaderStatus, "leader_is_leader")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: failed to register collector",
			zap.String("name", namespace+"_"+name), zap.Error(err))
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (s *PrometheusSink) DrawStarted() {
	s.drawsStarted.Inc()
}

func (s *PrometheusSink) DrawFinished(outcome, strategy string, participants int, duration time.Duration) {
	if strategy == "" {
		strategy = "none"
	}
	s.drawsTotal.WithLabelValues(outcome, strategy).Inc()
	s.drawDuration.Observe(duration.Seconds())
	if participants > 0 {
		s.drawParticipants.Observe(float64(participants))
	}
}

func (s *PrometheusSink) StartCoalesced() {
	s.startsCoalesced.Inc()
}

func (s *PrometheusSink) OutcomeCacheHit() {
	s.cacheHits.Inc()
}

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) NoticesInFlightIncr() {
	s.noticesInFlight.Inc()
}

func (s *PrometheusSink) NoticesInFlightDecr() {
	s.noticesInFlight.Dec()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) ReconcileCycle(staleFailed, reemitted int, err error) {
	s.reconcileCycles.WithLabelValues(resultLabel(err)).Inc()
	s.staleDrawsFailed.Add(float64(staleFailed))
	s.noticesReemitted.Add(float64(reemitted))
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, started int, err error) {
	s.sweepsTotal.WithLabelValues(resultLabel(err)).Inc()
	s.sweepDuration.Observe(duration.Seconds())
	s.autostartedTotal.Add(float64(started))
}

func (s *PrometheusSink) LeaderStatus(leader bool) {
	if leader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

var _ Sink = (*PrometheusSink)(nil)
