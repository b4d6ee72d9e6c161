package config

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/djlord-it/wichtel/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.loadErrs...)
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.StorageDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required")
		}
	case DriverMemory:
	default:
		add("STORAGE_DRIVER", "must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.StorageDriver)
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", "unknown level %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	positive := []struct {
		field string
		d     time.Duration
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeout},
		{"DRAW_TIMEOUT", cfg.DrawTimeout},
		{"DRAW_POLL_INTERVAL", cfg.DrawPollInterval},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeout},
		{"NOTIFY_TIMEOUT", cfg.NotifyTimeout},
		{"NOTIFIER_DRAIN_TIMEOUT", cfg.NotifierDrainTimeout},
		{"RECONCILE_INTERVAL", cfg.ReconcileInterval},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThreshold},
		{"RECONCILE_NOTIFY_THRESHOLD", cfg.ReconcileNotifyThreshold},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryInterval},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			add(p.field, "must be positive")
		}
	}
	if cfg.DrawPollInterval > 0 && cfg.DrawPollInterval >= cfg.DrawTimeout {
		add("DRAW_POLL_INTERVAL", "must be shorter than DRAW_TIMEOUT (%s)", cfg.DrawTimeout)
	}
	if cfg.ReconcileThreshold > 0 && cfg.ReconcileThreshold <= cfg.DrawTimeout {
		add("RECONCILE_THRESHOLD", "must exceed DRAW_TIMEOUT (%s)", cfg.DrawTimeout)
	}

	if cfg.OutcomeCacheBytes < 0 {
		add("OUTCOME_CACHE_BYTES", "must not be negative")
	}
	if cfg.EventBusBufferSize <= 0 {
		add("EVENTBUS_BUFFER_SIZE", "must be positive")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.CircuitBreakerThreshold > 0 && cfg.CircuitBreakerCooldown <= 0 {
		add("CIRCUIT_BREAKER_COOLDOWN", "must be positive when the circuit breaker is enabled")
	}
	if cfg.ReconcileBatchSize <= 0 {
		add("RECONCILE_BATCH_SIZE", "must be positive")
	}
	if cfg.AutostartBatchSize <= 0 {
		add("AUTOSTART_BATCH_SIZE", "must be positive")
	}
	if cfg.LeaderLockKey <= 0 {
		add("LEADER_LOCK_KEY", "must be positive")
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		add("METRICS_PORT", "must be between 0 and 65535")
	}

	if cfg.NotifyWebhookURL != "" {
		u, err := url.Parse(cfg.NotifyWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("NOTIFY_WEBHOOK_URL", "must be an absolute http(s) URL")
		}
	}

	switch cfg.NotifyTransport {
	case TransportChannel:
	case TransportNATS:
		if cfg.NATSURL == "" {
			add("NATS_URL", "required when NOTIFY_TRANSPORT is nats")
		}
		if cfg.NATSSubject == "" {
			add("NATS_SUBJECT", "required when NOTIFY_TRANSPORT is nats")
		}
	default:
		add("NOTIFY_TRANSPORT", "must be %q or %q, got %q", TransportChannel, TransportNATS, cfg.NotifyTransport)
	}

	if cfg.AutostartEnabled {
		if _, err := time.LoadLocation(cfg.AutostartTimezone); err != nil {
			add("AUTOSTART_TIMEZONE", "unknown timezone %q", cfg.AutostartTimezone)
		} else if _, err := cron.NewParser().Parse(cfg.AutostartSchedule, cfg.AutostartTimezone); err != nil {
			add("AUTOSTART_SCHEDULE", "%v", err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
