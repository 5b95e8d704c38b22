package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists sale orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GenerateNumber returns the sale number for a pre-order. The sequence row
// is keyed by pre-order id so a retried conversion gets the same number.
func (r *Repository) GenerateNumber(ctx context.Context, preOrderID uuid.UUID) (string, error) {
	var seq int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO sale_order_numbers (pre_order_id)
		 VALUES ($1)
		 ON CONFLICT (pre_order_id) DO UPDATE SET pre_order_id = EXCLUDED.pre_order_id
		 RETURNING seq`,
		preOrderID).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("VT-%06d", seq), nil
}

// CreateOrder inserts the order header. The unique constraint on
// pre_order_id keeps one sale per converted pre-order.
func (r *Repository) CreateOrder(ctx context.Context, order SaleOrder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sale_orders (id, number, client_id, pre_order_id, net_amount, amount_ttc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (pre_order_id) DO NOTHING`,
		order.ID, order.Number, order.ClientID, order.PreOrderID, order.NetAmount,
		order.AmountTTC, order.CreatedAt)
	return err
}

// InsertLine inserts one line, idempotent per (sale_order_id, article_id).
func (r *Repository) InsertLine(ctx context.Context, line SaleOrderLine) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sale_order_lines (id, sale_order_id, article_id, quantity, unit_price, line_amount)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sale_order_id, article_id) DO NOTHING`,
		line.ID, line.SaleOrderID, line.ArticleID, line.Quantity, line.UnitPrice, line.LineAmount)
	return err
}

// GetByPreOrder returns the sale created from one pre-order.
func (r *Repository) GetByPreOrder(ctx context.Context, preOrderID uuid.UUID) (SaleOrder, error) {
	var o SaleOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, client_id, pre_order_id, net_amount, amount_ttc, created_at
		 FROM sale_orders WHERE pre_order_id = $1`, preOrderID).
		Scan(&o.ID, &o.Number, &o.ClientID, &o.PreOrderID, &o.NetAmount, &o.AmountTTC, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SaleOrder{}, ErrNotFound
		}
		return SaleOrder{}, err
	}
	return o, nil
}
