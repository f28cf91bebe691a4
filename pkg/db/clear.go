package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearClassifications removes every stored classification. The schema is preserved.
// Ids are probed again on their next dispatch.
func ClearClassifications(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing %s", clearLogPrefix, ClassificationsTable))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE wallet_classifications`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Classifications cleared", clearLogPrefix))
	return nil
}
