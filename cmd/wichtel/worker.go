package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/config"
	"github.com/djlord-it/wichtel/internal/metrics"
)

// workerCommand runs only the notifier. It joins the NATS queue group, so
// notification throughput scales independently of the API instances.
func workerCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver notifications from NATS without serving the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(load)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.NotifyTransport != config.TransportNATS {
				return invalidConfig(fmt.Errorf("worker requires NOTIFY_TRANSPORT=nats, got %q", cfg.NotifyTransport))
			}
			if cfg.StorageDriver != config.DriverPostgres {
				return invalidConfig(fmt.Errorf("worker requires STORAGE_DRIVER=postgres, got %q", cfg.StorageDriver))
			}
			if cfg.NotifyWebhookURL == "" {
				logger.Warn("wichtel: NOTIFY_WEBHOOK_URL not set; the worker will only log notices")
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a := &app{cfg: cfg, logger: logger, metrics: metrics.NewNoopSink()}
			defer a.close()
			if err := a.openStore(ctx); err != nil {
				return err
			}
			if err := a.openBus(); err != nil {
				return err
			}
			n := newNotifier(cfg, a.store, a.metrics, logger)

			logger.Info("wichtel: worker started", zap.String("subject", cfg.NATSSubject))
			n.Run(ctx, a.bus.Channel())
			logger.Info("wichtel: worker stopped")
			return nil
		},
	}
}
