package main

import (
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/config"
)

// logConfigWarnings flags configurations that run but lose guarantees.
// P0: a draw or notification can be lost for good. P1: reduced visibility.
func logConfigWarnings(logger *zap.Logger, cfg config.Config) {
	if !cfg.ReconcileEnabled {
		if cfg.NotifyTransport == config.TransportChannel {
			logger.Warn("wichtel: WARNING [P0]: NOTIFY_TRANSPORT=channel with RECONCILE_ENABLED=false; " +
				"notices buffered in memory are lost on crash and never re-sent")
		}
		logger.Warn("wichtel: WARNING [P0]: RECONCILE_ENABLED=false; " +
			"draws interrupted by a crash stay started and block their event")
	}
	if !cfg.MetricsEnabled {
		logger.Warn("wichtel: WARNING [P1]: METRICS_ENABLED=false; draw and delivery failures are only visible in logs")
	}
	if cfg.StorageDriver == config.DriverMemory {
		logger.Warn("wichtel: WARNING [P0]: STORAGE_DRIVER=memory; events and assignments are lost on restart " +
			"and instances do not share state")
	}
	if cfg.NotifyWebhookURL == "" {
		logger.Info("wichtel: INFO: NOTIFY_WEBHOOK_URL not set; completed draws are marked notified without delivery")
	} else if cfg.NotifyWebhookSecret == "" {
		logger.Warn("wichtel: WARNING [P1]: NOTIFY_WEBHOOK_SECRET not set; receivers cannot verify webhook signatures")
	}
	if cfg.NotifyTransport == config.TransportChannel {
		logger.Info("wichtel: INFO: NOTIFY_TRANSPORT=channel; each instance notifies only for the draws it ran")
	}
}
