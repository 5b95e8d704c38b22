package backorder

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/invoicing"
)

// Repository persists pre-orders in PostgreSQL. It also implements the
// payment engine's pre-order port so payments can settle deposit state.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns one pre-order by id with its stored lifecycle state.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (PreOrder, error) {
	var o PreOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, client_id, status, deposit_paid, payment_status, net_amount, amount_ttc, created_at
		 FROM pre_orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Number, &o.ClientID, &o.Status, &o.DepositPaid, &o.PaymentStatus,
			&o.NetAmount, &o.AmountTTC, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PreOrder{}, ErrNotFound
		}
		return PreOrder{}, err
	}
	return o, nil
}

// GetLines returns the lines of one pre-order.
func (r *Repository) GetLines(ctx context.Context, preOrderID uuid.UUID) ([]PreOrderLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, pre_order_id, article_id, quantity_ordered, quantity_delivered, unit_price, line_amount, status
		 FROM pre_order_lines WHERE pre_order_id = $1 ORDER BY id`, preOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PreOrderLine
	for rows.Next() {
		var l PreOrderLine
		if err := rows.Scan(&l.ID, &l.PreOrderID, &l.ArticleID, &l.QuantityOrdered,
			&l.QuantityDelivered, &l.UnitPrice, &l.LineAmount, &l.Status); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetStatus writes a lifecycle state unless the row is already terminal.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pre_orders SET status = $1 WHERE id = $2 AND status NOT IN ($3, $4)`,
		status, id, StatusCancelled, StatusConverted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkConverted transitions to converted only from the convertible states.
func (r *Repository) MarkConverted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pre_orders SET status = $1 WHERE id = $2 AND status IN ($3, $4)`,
		StatusConverted, id, StatusReady, StatusConfirmed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteLinesExcept removes lines whose article is not in the kept set.
func (r *Repository) DeleteLinesExcept(ctx context.Context, preOrderID uuid.UUID, keepArticles []uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM pre_order_lines WHERE pre_order_id = $1 AND article_id != ALL($2)`,
		preOrderID, keepArticles)
	return err
}

// UpsertLine inserts or rewrites one line keyed by (pre_order_id, article_id).
func (r *Repository) UpsertLine(ctx context.Context, line PreOrderLine) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO pre_order_lines
		   (id, pre_order_id, article_id, quantity_ordered, quantity_delivered, unit_price, line_amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (pre_order_id, article_id) DO UPDATE
		 SET quantity_ordered = EXCLUDED.quantity_ordered,
		     quantity_delivered = EXCLUDED.quantity_delivered,
		     unit_price = EXCLUDED.unit_price,
		     line_amount = EXCLUDED.line_amount,
		     status = EXCLUDED.status`,
		line.ID, line.PreOrderID, line.ArticleID, line.QuantityOrdered, line.QuantityDelivered,
		line.UnitPrice, line.LineAmount, line.Status)
	return err
}

// SetTotals persists recomputed totals on the parent document.
func (r *Repository) SetTotals(ctx context.Context, id uuid.UUID, netAmount, amountTTC decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pre_orders SET net_amount = $1, amount_ttc = $2 WHERE id = $3`,
		netAmount, amountTTC, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Outstanding sums undelivered quantities for one article across the
// alertable pre-orders: confirmed, preparing or partially delivered. Ready
// orders await pickup, not replenishment.
func (r *Repository) Outstanding(ctx context.Context, articleID uuid.UUID) (float64, int, error) {
	var (
		total float64
		count int
	)
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(l.quantity_ordered - l.quantity_delivered), 0), COUNT(DISTINCT o.id)
		 FROM pre_order_lines l
		 JOIN pre_orders o ON o.id = l.pre_order_id
		 WHERE l.article_id = $1
		   AND l.quantity_delivered < l.quantity_ordered
		   AND o.status IN ($2, $3, $4)`,
		articleID, StatusConfirmed, StatusPreparing, StatusPartial).
		Scan(&total, &count)
	if err != nil {
		return 0, 0, err
	}
	return total, count, nil
}

// AmountTTC returns the document total the payment engine derives status
// against.
func (r *Repository) AmountTTC(ctx context.Context, preOrderID uuid.UUID) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT amount_ttc FROM pre_orders WHERE id = $1`, preOrderID).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, err
	}
	return amount, nil
}

// SetPaymentState writes the summed deposit and derived payment status back
// onto the pre-order.
func (r *Repository) SetPaymentState(ctx context.Context, preOrderID uuid.UUID, depositPaid decimal.Decimal, status invoicing.PaymentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pre_orders SET deposit_paid = $1, payment_status = $2 WHERE id = $3`,
		depositPaid, status, preOrderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ArticlesWithDemand returns the distinct articles outstanding on alertable
// pre-orders, for the periodic alert scan.
func (r *Repository) ArticlesWithDemand(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT l.article_id
		 FROM pre_order_lines l
		 JOIN pre_orders o ON o.id = l.pre_order_id
		 WHERE l.quantity_delivered < l.quantity_ordered
		   AND o.status IN ($1, $2, $3)
		 LIMIT $4`,
		StatusConfirmed, StatusPreparing, StatusPartial, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
