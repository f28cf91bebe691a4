package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/message-relay/pkg/classify"
)

const repoLogPrefix = "db:repository"

// ClassificationRepository stores wallet classifications. It implements classify.Store.
type ClassificationRepository struct {
	pool *pgxpool.Pool
}

// NewClassificationRepository creates a new ClassificationRepository with the given pool.
func NewClassificationRepository(pool *pgxpool.Pool) *ClassificationRepository {
	return &ClassificationRepository{pool: pool}
}

// Get returns the full row for id, or nil when none exists.
func (r *ClassificationRepository) Get(ctx context.Context, id string) (*Classification, error) {
	var c Classification
	err := r.pool.QueryRow(ctx,
		`SELECT id, is_wallet, created, modified
		 FROM wallet_classifications
		 WHERE id = $1`, id).Scan(&c.ID, &c.IsWallet, &c.Created, &c.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - get %s: %w", repoLogPrefix, id, err)
	}
	return &c, nil
}

// GetByID returns the classification for id, or (nil, nil) on a miss.
func (r *ClassificationRepository) GetByID(ctx context.Context, id string) (*classify.Entry, error) {
	c, err := r.Get(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	return &classify.Entry{ID: c.ID, IsWallet: c.IsWallet}, nil
}

// SetByID stores the classification for id. Concurrent writers for one id are resolved
// by the last write.
func (r *ClassificationRepository) SetByID(ctx context.Context, id string, entry classify.Entry) error {
	slog.Debug(fmt.Sprintf("%s - SetByID id=%s isWallet=%t", repoLogPrefix, id, entry.IsWallet))

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallet_classifications (id, is_wallet, created, modified)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET
		   is_wallet = EXCLUDED.is_wallet,
		   modified = EXCLUDED.modified`,
		id, entry.IsWallet, now)
	if err != nil {
		return fmt.Errorf("%s - set %s: %w", repoLogPrefix, id, err)
	}
	return nil
}

// Counts returns how many ids are stored per classification.
func (r *ClassificationRepository) Counts(ctx context.Context) (ClassificationCounts, error) {
	var c ClassificationCounts
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE is_wallet), COUNT(*) FILTER (WHERE NOT is_wallet)
		 FROM wallet_classifications`).Scan(&c.Wallets, &c.Processes)
	if err != nil {
		return ClassificationCounts{}, fmt.Errorf("%s - count: %w", repoLogPrefix, err)
	}
	return c, nil
}

// Ping checks that the database answers.
func (r *ClassificationRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
