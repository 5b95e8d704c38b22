package receiving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists delivery notes in PostgreSQL. Every method is one
// statement; the note lifecycle relies on the conditional update in
// MarkReceived rather than row locks.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GenerateNumber returns the delivery-note number for an order number. The
// sequence row is keyed by order number, so a retried approval gets the
// same number back instead of burning a new one.
func (r *Repository) GenerateNumber(ctx context.Context, orderNumber string) (string, error) {
	var seq int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO delivery_note_numbers (po_number)
		 VALUES ($1)
		 ON CONFLICT (po_number) DO UPDATE SET po_number = EXCLUDED.po_number
		 RETURNING seq`,
		orderNumber).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BL-%06d", seq), nil
}

// CreateNote inserts the note header. The unique constraint on
// purchase_order_id keeps the order/note relation 1:1.
func (r *Repository) CreateNote(ctx context.Context, note DeliveryNote) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO delivery_notes
		   (id, number, purchase_order_id, supplier_id, status, freight_fee, logistics_fee, customs_transit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (purchase_order_id) DO NOTHING`,
		note.ID, note.Number, note.PurchaseOrderID, note.SupplierID, note.Status,
		note.FreightFee, note.LogisticsFee, note.CustomsTransit, note.CreatedAt)
	return err
}

// InsertNoteLine inserts one line. The (note_id, article_id) constraint
// makes the insert idempotent under repair.
func (r *Repository) InsertNoteLine(ctx context.Context, line DeliveryNoteLine) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO delivery_note_lines
		   (id, note_id, article_id, quantity_ordered, quantity_received, unit_price, line_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (note_id, article_id) DO NOTHING`,
		line.ID, line.NoteID, line.ArticleID, line.QuantityOrdered, line.QuantityReceived,
		line.UnitPrice, line.LineAmount)
	return err
}

// GetNote returns one note by id.
func (r *Repository) GetNote(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	return r.scanNote(r.pool.QueryRow(ctx, noteSelect+` WHERE id = $1`, id))
}

// GetNoteByOrder returns the note for an order together with its line
// count, read in the same statement for the post-approval verification.
func (r *Repository) GetNoteByOrder(ctx context.Context, orderID uuid.UUID) (DeliveryNote, int, error) {
	var (
		n     DeliveryNote
		count int
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, purchase_order_id, supplier_id, status, destination_kind, destination_id,
		        freight_fee, logistics_fee, customs_transit, received_at, created_at,
		        (SELECT COUNT(*) FROM delivery_note_lines l WHERE l.note_id = delivery_notes.id)
		 FROM delivery_notes WHERE purchase_order_id = $1`, orderID).
		Scan(&n.ID, &n.Number, &n.PurchaseOrderID, &n.SupplierID, &n.Status, &n.DestinationKind,
			&n.DestinationID, &n.FreightFee, &n.LogisticsFee, &n.CustomsTransit, &n.ReceivedAt,
			&n.CreatedAt, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryNote{}, 0, ErrNotFound
		}
		return DeliveryNote{}, 0, err
	}
	return n, count, nil
}

// GetNoteLines returns the lines of a note in insertion order.
func (r *Repository) GetNoteLines(ctx context.Context, noteID uuid.UUID) ([]DeliveryNoteLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, note_id, article_id, quantity_ordered, quantity_received, unit_price, line_amount, stock_applied
		 FROM delivery_note_lines WHERE note_id = $1 ORDER BY id`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryNoteLine
	for rows.Next() {
		var l DeliveryNoteLine
		if err := rows.Scan(&l.ID, &l.NoteID, &l.ArticleID, &l.QuantityOrdered, &l.QuantityReceived,
			&l.UnitPrice, &l.LineAmount, &l.StockApplied); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateLineReceived records the received quantity on one line.
func (r *Repository) UpdateLineReceived(ctx context.Context, lineID uuid.UUID, qty float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE delivery_note_lines SET quantity_received = $1 WHERE id = $2`, qty, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReceived flips in_transit to received with the destination in one
// conditional statement and reports whether this call made the transition.
func (r *Repository) MarkReceived(ctx context.Context, noteID uuid.UUID, dest Destination, destID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE delivery_notes
		 SET status = $1, destination_kind = $2, destination_id = $3, received_at = $4
		 WHERE id = $5 AND status = $6`,
		NoteStatusReceived, dest, destID, at, noteID, NoteStatusInTransit)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimLineStock flips stock_applied in one conditional statement and
// reports whether this call claimed the line. Exactly one of the concurrent
// retries of a line sees true.
func (r *Repository) ClaimLineStock(ctx context.Context, lineID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE delivery_note_lines SET stock_applied = TRUE WHERE id = $1 AND stock_applied = FALSE`,
		lineID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLineStock puts a claimed line back after a failed increment so the
// retry pass picks it up again.
func (r *Repository) ReleaseLineStock(ctx context.Context, lineID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE delivery_note_lines SET stock_applied = FALSE WHERE id = $1`, lineID)
	return err
}

// ListPendingStock returns received notes that still carry unapplied stock
// increments, oldest first.
func (r *Repository) ListPendingStock(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT n.id
		 FROM delivery_notes n
		 WHERE n.status = $1
		   AND EXISTS (SELECT 1 FROM delivery_note_lines l
		               WHERE l.note_id = n.id AND l.quantity_received > 0 AND NOT l.stock_applied)
		 ORDER BY n.received_at LIMIT $2`,
		NoteStatusReceived, limit)
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

const noteSelect = `SELECT id, number, purchase_order_id, supplier_id, status, destination_kind,
       destination_id, freight_fee, logistics_fee, customs_transit, received_at, created_at
  FROM delivery_notes`

func (r *Repository) scanNote(row pgx.Row) (DeliveryNote, error) {
	var n DeliveryNote
	err := row.Scan(&n.ID, &n.Number, &n.PurchaseOrderID, &n.SupplierID, &n.Status, &n.DestinationKind,
		&n.DestinationID, &n.FreightFee, &n.LogisticsFee, &n.CustomsTransit, &n.ReceivedAt, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryNote{}, ErrNotFound
		}
		return DeliveryNote{}, err
	}
	return n, nil
}
