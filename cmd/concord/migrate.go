package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"concord.chat/internal/migrate"
	"concord.chat/internal/store/pg"
)

var (
	migrateDSN     string
	migrateTimeout time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
	Long: `Applies or rolls back the embedded SQL migrations.

Examples:
  concord migrate up
  concord migrate down
  concord migrate status --dsn postgres://bot@localhost/concord`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
		}
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		name, err := m.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Status(ctx)
		if err != nil {
			return err
		}
		pending, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied ", name)
		}
		for _, name := range pending {
			fmt.Fprintln(cmd.OutOrStdout(), "pending ", name)
		}
		return nil
	}),
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDSN, "dsn", "", "PostgreSQL DSN (default: storage.postgres_dsn or CONCORD_PG_DSN)")
	migrateCmd.PersistentFlags().DurationVar(&migrateTimeout, "timeout", 30*time.Second, "Operation timeout")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func withMigrator(fn func(context.Context, *cobra.Command, *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dsn := migrateDSN
		if dsn == "" {
			dsn = cfg.Storage.PostgresDSN
		}
		if dsn == "" {
			return errors.New("missing DSN: provide via --dsn, storage.postgres_dsn or CONCORD_PG_DSN")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
		defer cancel()

		st, err := pg.Open(dsn)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := fn(ctx, cmd, migrate.NewManager(st.DB(), pg.Migrations())); err != nil {
			logger.Error("migration failed", zap.String("command", cmd.Name()), zap.Error(err))
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		return nil
	}
}
