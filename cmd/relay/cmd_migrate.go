package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/message-relay/internal/config"
	"github.com/morezero/message-relay/pkg/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the classification schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withPool(cmd.Context(), func(cfg *config.Config, pool *pgxpool.Pool) error {
		files, source, err := db.LoadMigrations(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(cmd.Context(), pool, files); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) from %s.\n", len(files), source)
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withPool(cmd.Context(), func(cfg *config.Config, pool *pgxpool.Pool) error {
		return db.MigrationStatus(cmd.Context(), pool, cfg.MigrationPath, cmd.OutOrStdout())
	})
}
