package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/sqlite"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

func newMigrateCmd(a *app, preRun func(*cobra.Command, []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "migrate",
		Short:             "Manage the database schema",
		PersistentPreRunE: preRun,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.migrateUp(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest PostgreSQL migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					if err := m.Rollback(ctx); err != nil {
						return err
					}
					a.log.Info("rolled back latest migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show PostgreSQL migration status",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					migrations, err := m.Status(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
					for _, mig := range migrations {
						applied := "pending"
						if mig.IsApplied {
							applied = mig.AppliedAt.Format("2006-01-02 15:04:05")
						}
						fmt.Fprintf(w, "%d\t%s\t%s\n", mig.Version, mig.Name, applied)
					}
					return w.Flush()
				})
			},
		},
	)
	return cmd
}

func (a *app) migrateUp(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		return a.withMigrator(ctx, func(ctx context.Context, m *postgres.Migrator) error {
			applied, err := m.Migrate(ctx)
			if err != nil {
				return err
			}
			a.log.Info("migrations applied", logger.Int("count", applied))
			return nil
		})

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:         a.cfg.Database.SQLitePath,
			QueryTimeout: a.cfg.Database.QueryTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open sqlite database: %w", err)
		}
		defer func() { _ = store.Close() }()

		applied, err := store.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.log.Info("migrations applied", logger.Int("count", applied))
		return nil

	default:
		a.log.Info("memory store needs no migrations")
		return nil
	}
}

// withMigrator открывает соединение с PostgreSQL только на время fn.
func (a *app) withMigrator(ctx context.Context, fn func(context.Context, *postgres.Migrator) error) error {
	if a.cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("command requires DB_DRIVER=%s, got %q", config.DriverPostgres, a.cfg.Database.Driver)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := postgres.NewConnection(ctx, postgresConfig(a.cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	return fn(ctx, postgres.NewMigrator(conn))
}
