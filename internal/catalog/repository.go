package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads articles from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns one article.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Article, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, reference, name, unit_cost_basis, unit_sale_price FROM articles WHERE id = $1`, id)
	return scanArticle(row)
}

// GetMany returns the articles for the given ids, keyed by id. Missing
// articles are simply absent from the map; callers decide whether that is
// an error.
func (r *Repository) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Article, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, reference, name, unit_cost_basis, unit_sale_price FROM articles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]Article, len(ids))
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func scanArticle(row pgx.Row) (Article, error) {
	var a Article
	var cost, sale decimal.Decimal
	if err := row.Scan(&a.ID, &a.Reference, &a.Name, &cost, &sale); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Article{}, ErrNotFound
		}
		return Article{}, err
	}
	a.UnitCostBasis = cost
	a.UnitSalePrice = sale
	return a, nil
}
