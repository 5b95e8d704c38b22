package invoicing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
)

// Repository persists invoices and payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetInvoice returns one invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (SalesInvoice, error) {
	var inv SalesInvoice
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, client_id, amount_ttc, payment_status, delivery_status, created_at
		 FROM sales_invoices WHERE id = $1`, id).
		Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.AmountTTC, &inv.PaymentStatus,
			&inv.DeliveryStatus, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesInvoice{}, ErrNotFound
		}
		return SalesInvoice{}, err
	}
	return inv, nil
}

// GetInvoiceLines returns the lines of one invoice in insertion order.
func (r *Repository) GetInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]SalesInvoiceLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, article_id, quantity_ordered, quantity_delivered, status
		 FROM sales_invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SalesInvoiceLine
	for rows.Next() {
		var l SalesInvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ArticleID, &l.QuantityOrdered,
			&l.QuantityDelivered, &l.Status); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AppendPayment inserts one payment row. There is no update or delete path
// for payments anywhere in this package.
func (r *Repository) AppendPayment(ctx context.Context, p Payment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (id, invoice_id, pre_order_id, amount, method, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.InvoiceID, p.PreOrderID, p.Amount, p.Method, p.RecordedAt)
	return err
}

// ListInvoicePayments returns every payment against one invoice.
func (r *Repository) ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	return r.listPayments(ctx, `invoice_id`, invoiceID)
}

// ListPreOrderPayments returns every payment against one pre-order.
func (r *Repository) ListPreOrderPayments(ctx context.Context, preOrderID uuid.UUID) ([]Payment, error) {
	return r.listPayments(ctx, `pre_order_id`, preOrderID)
}

func (r *Repository) listPayments(ctx context.Context, column string, id uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, pre_order_id, amount, method, recorded_at
		 FROM payments WHERE `+column+` = $1 ORDER BY recorded_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.PreOrderID, &p.Amount, &p.Method, &p.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPaymentStatus persists the derived payment status.
func (r *Repository) SetPaymentStatus(ctx context.Context, invoiceID uuid.UUID, status PaymentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sales_invoices SET payment_status = $1 WHERE id = $2`, status, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeliveryStatus persists the derived delivery status.
func (r *Repository) SetDeliveryStatus(ctx context.Context, invoiceID uuid.UUID, status reconcile.DocumentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sales_invoices SET delivery_status = $1 WHERE id = $2`, status, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLineDelivered persists one line's delivered quantity and derived
// status.
func (r *Repository) UpdateLineDelivered(ctx context.Context, lineID uuid.UUID, qty float64, status reconcile.LineStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sales_invoice_lines SET quantity_delivered = $1, status = $2 WHERE id = $3`,
		qty, status, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecentIDs returns the most recently created invoice ids, for the
// reconciliation sweep.
func (r *Repository) ListRecentIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM sales_invoices ORDER BY created_at DESC LIMIT $1`, limit)
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
