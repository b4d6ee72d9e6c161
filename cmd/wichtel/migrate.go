package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/config"
	"github.com/djlord-it/wichtel/internal/logging"
	"github.com/djlord-it/wichtel/internal/store/postgres"
)

func migrateCommand(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	withMigrator := func(run func(cmd *cobra.Command, m *postgres.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return invalidConfig(fmt.Errorf("DATABASE_URL: required"))
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return invalidConfig(err)
			}
			defer logger.Sync()

			m, err := postgres.NewMigrator(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := m.Close(); cerr != nil {
					logger.Warn("wichtel: closing migrator", zap.Error(cerr))
				}
			}()
			return run(cmd, m)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator) error {
			if err := m.Up(); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			return printVersion(cmd, m)
		}),
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withMigrator(func(cmd *cobra.Command, m *postgres.Migrator) error {
				if err := m.Down(steps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return printVersion(cmd, m)
			})(cmd, args)
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(printVersion),
	}

	cmd.AddCommand(up, down, ver)
	return cmd
}

func printVersion(cmd *cobra.Command, m *postgres.Migrator) error {
	v, dirty, ok, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "schema version: none")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d (dirty: %t)\n", v, dirty)
	return nil
}

// migrateOnStart applies pending migrations before serving.
func migrateOnStart(cfg config.Config, logger *zap.Logger) error {
	m, err := postgres.NewMigrator(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
