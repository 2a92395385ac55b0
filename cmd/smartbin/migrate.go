package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/smartbin/internal/config"
	"github.com/dukerupert/smartbin/internal/database"
	"github.com/dukerupert/smartbin/internal/logging"
	"github.com/dukerupert/smartbin/internal/store/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the sqlite and postgres backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

			switch cfg.Store.Backend {
			case config.BackendPostgres:
				if err := postgres.Migrate(cmd.Context(), cfg.Store.PostgresDSN); err != nil {
					return err
				}
			case config.BackendSupabase:
				logger.Info("supabase schema is managed by the project; only local tables are migrated")
			}

			// Sessions live in SQLite unless Redis holds them.
			if cfg.Store.Backend == config.BackendSQLite || cfg.Session.Backend == config.BackendSQLite {
				db, err := database.Open(cfg.Store.SQLitePath)
				if err != nil {
					return fmt.Errorf("migrate sqlite: %w", err)
				}
				db.Close()
			}
			logger.Info("migrations applied", "store", cfg.Store.Backend, "sessions", cfg.Session.Backend)
			return nil
		},
	}
}
