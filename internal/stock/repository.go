package stock

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no stock record exists for the key.
var ErrNotFound = errors.New("stock: record not found")

// Repository persists stock records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Increment adds qty to the available quantity for (articleID, locationID),
// creating the record when absent. The upsert is one statement so two
// concurrent receipts for the same key never lose an update.
func (r *Repository) Increment(ctx context.Context, articleID, locationID uuid.UUID, qty float64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO stock_records (article_id, location_id, quantity_available, quantity_reserved, updated_at)
		 VALUES ($1, $2, $3, 0, NOW())
		 ON CONFLICT (article_id, location_id)
		 DO UPDATE SET quantity_available = stock_records.quantity_available + EXCLUDED.quantity_available,
		               updated_at = NOW()`,
		articleID, locationID, qty)
	return err
}

// Get returns the record for one key.
func (r *Repository) Get(ctx context.Context, articleID, locationID uuid.UUID) (Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx,
		`SELECT article_id, location_id, quantity_available, quantity_reserved, updated_at
		 FROM stock_records WHERE article_id = $1 AND location_id = $2`,
		articleID, locationID).
		Scan(&rec.ArticleID, &rec.LocationID, &rec.QuantityAvailable, &rec.QuantityReserved, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListByLocation returns every record held at one location.
func (r *Repository) ListByLocation(ctx context.Context, locationID uuid.UUID) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT article_id, location_id, quantity_available, quantity_reserved, updated_at
		 FROM stock_records WHERE location_id = $1 ORDER BY article_id`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ArticleID, &rec.LocationID, &rec.QuantityAvailable, &rec.QuantityReserved, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
