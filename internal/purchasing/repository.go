package purchasing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrder returns one purchase order header.
func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, supplier_id, status, freight_fee, logistics_fee, customs_transit,
		        net_amount, created_at, validated_at
		 FROM purchase_orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Number, &o.SupplierID, &o.Status, &o.FreightFee, &o.LogisticsFee,
			&o.CustomsTransit, &o.NetAmount, &o.CreatedAt, &o.ValidatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return o, nil
}

// GetOrderLines returns the lines of one order in stable order.
func (r *Repository) GetOrderLines(ctx context.Context, orderID uuid.UUID) ([]PurchaseOrderLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, article_id, quantity_ordered, unit_price, line_amount
		 FROM purchase_order_lines WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []PurchaseOrderLine
	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ArticleID, &l.QuantityOrdered, &l.UnitPrice, &l.LineAmount); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// MarkValidated performs the one-way draft to validated transition. The
// WHERE clause on the current status makes concurrent approvals race
// safely: only one caller sees a row affected.
func (r *Repository) MarkValidated(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_orders SET status = $1, validated_at = $2 WHERE id = $3 AND status = $4`,
		OrderStatusValidated, at, id, OrderStatusDraft)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListValidatedIDs returns validated orders for the reconciliation sweep,
// oldest first.
func (r *Repository) ListValidatedIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM purchase_orders WHERE status = $1 ORDER BY validated_at LIMIT $2`,
		OrderStatusValidated, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
