package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates the key was already claimed.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore claims operation keys so a retried multi-step pipeline
// can detect its previous attempt. Claims are single-statement inserts; the
// unique index is the synchronisation point.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim inserts the key, failing with ErrIdempotencyConflict on a duplicate.
func (s *IdempotencyStore) Claim(ctx context.Context, key, operation string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || operation == "" {
		return errors.New("idempotency key and operation required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, operation, created_at) VALUES ($1, $2, NOW())`,
		key, operation)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Release removes a key after a failed attempt so the caller may retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}

// Cleanup drops claims older than the retention window.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-olderThan))
	return err
}
