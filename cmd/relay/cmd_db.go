package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/message-relay/internal/config"
	"github.com/morezero/message-relay/pkg/db"
)

const defaultTestDatabase = "relay_test"

var ensureDBCmd = &cobra.Command{
	Use:   "ensure-db [name]",
	Short: "Create a database on the DATABASE_URL host if missing (default " + defaultTestDatabase + ")",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEnsureDB,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored classification; schema is preserved",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count stored wallet and process classifications",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runEnsureDB(cmd *cobra.Command, args []string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	name := defaultTestDatabase
	if len(args) > 0 && args[0] != "" {
		name = args[0]
	}
	targetURL, err := db.WithDatabaseName(cfg.DatabaseURL, name)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(cmd.Context(), targetURL); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database %q is ready.\n", name)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	return withPool(cmd.Context(), func(_ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearClassifications(cmd.Context(), pool); err != nil {
			return fmt.Errorf("clear classifications: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Classifications cleared.")
		return nil
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withPool(cmd.Context(), func(_ *config.Config, pool *pgxpool.Pool) error {
		counts, err := db.NewClassificationRepository(pool).Counts(cmd.Context())
		if err != nil {
			return fmt.Errorf("count classifications: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Wallets:   %d\n", counts.Wallets)
		fmt.Fprintf(out, "Processes: %d\n", counts.Processes)
		fmt.Fprintf(out, "Total:     %d\n", counts.Total())
		return nil
	})
}
