package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/config"
	"github.com/djlord-it/wichtel/internal/logging"
)

func serveCommand(load loadFunc) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API, the notifier and the background duties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(load)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logConfigWarnings(logger, cfg)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if migrate && cfg.StorageDriver == config.DriverPostgres {
				if err := migrateOnStart(cfg, logger); err != nil {
					return err
				}
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending schema migrations before serving")
	return cmd
}

// setup loads and validates the configuration and builds the logger.
func setup(load loadFunc) (config.Config, *zap.Logger, error) {
	cfg, err := load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, nil, invalidConfig(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, invalidConfig(err)
	}
	return cfg, logger, nil
}

// signalContext is shared by the long-running commands.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
