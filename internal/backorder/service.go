package backorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
	"github.com/comptoir-erp/comptoir-erp/internal/sales"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// RepositoryPort is the pre-order persistence used by Service. Writes are
// single statements; lifecycle transitions are conditional updates.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (PreOrder, error)
	GetLines(ctx context.Context, preOrderID uuid.UUID) ([]PreOrderLine, error)
	// SetStatus writes a lifecycle state unless the row is already
	// terminal, and reports whether the write happened.
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (bool, error)
	// MarkConverted transitions to converted only from the convertible
	// states, in one conditional statement.
	MarkConverted(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteLinesExcept(ctx context.Context, preOrderID uuid.UUID, keepArticles []uuid.UUID) error
	UpsertLine(ctx context.Context, line PreOrderLine) error
	SetTotals(ctx context.Context, id uuid.UUID, netAmount, amountTTC decimal.Decimal) error
	// Outstanding sums ordered minus delivered over alertable pre-orders
	// that carry the article.
	Outstanding(ctx context.Context, articleID uuid.UUID) (total float64, preOrders int, err error)
}

// SalesPort is the slice of the sales store a conversion needs.
type SalesPort interface {
	GenerateNumber(ctx context.Context, preOrderID uuid.UUID) (string, error)
	CreateOrder(ctx context.Context, order sales.SaleOrder) error
	InsertLine(ctx context.Context, line sales.SaleOrderLine) error
	GetByPreOrder(ctx context.Context, preOrderID uuid.UUID) (sales.SaleOrder, error)
}

// AuditPort records the audit trail.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// LineInput is one line of a full line-set replacement.
type LineInput struct {
	ArticleID         uuid.UUID
	QuantityOrdered   float64
	QuantityDelivered float64
	UnitPrice         decimal.Decimal
}

// Service manages the pre-order lifecycle.
type Service struct {
	repo    RepositoryPort
	sales   SalesPort
	audit   AuditPort
	taxRate decimal.Decimal
}

// NewService constructs the back-order service. taxRate is the flat tax
// fraction applied on top of net totals, e.g. 0.19.
func NewService(repo RepositoryPort, salesPort SalesPort, audit AuditPort, taxRate decimal.Decimal) *Service {
	return &Service{repo: repo, sales: salesPort, audit: audit, taxRate: taxRate}
}

// Get loads a pre-order with its delivery state derived from the lines.
// Line statuses are recomputed as well, so edits made directly to delivered
// quantities show up without any transition call.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (PreOrder, []PreOrderLine, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return PreOrder{}, nil, err
	}
	lines, err := s.repo.GetLines(ctx, id)
	if err != nil {
		return PreOrder{}, nil, err
	}
	for i, l := range lines {
		lines[i].Status = reconcile.LineStatusOf(l.QuantityOrdered, l.QuantityDelivered)
	}
	order.Status = DeriveStatus(order.Status, lines)
	return order, lines, nil
}

// lifecycle states a caller may set directly. Delivery states come from the
// lines and converted comes from ConvertToSale only.
var settable = map[Status]bool{
	StatusConfirmed: true,
	StatusPreparing: true,
	StatusReady:     true,
	StatusCancelled: true,
}

// SetStatus applies a lifecycle transition.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, next Status) error {
	if !settable[next] {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, next)
	}
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return ErrTerminal
	}
	ok, err := s.repo.SetStatus(ctx, id, next)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTerminal
	}
	s.recordAudit(ctx, "PREORDER_STATUS", id, map[string]any{"status": string(next)})
	return nil
}

// ConvertToSale turns a ready or confirmed pre-order into a firm sale.
//
// The conditional transition runs before the sale is created: of two racing
// conversions only one transitions, so only one sale order can exist. The
// number generator and the unique pre_order_id constraint keep the creation
// itself retryable. A pre-order already in the converted state without its
// sale order is a conversion that failed after transitioning; invoking the
// conversion again creates the missing sale.
func (s *Service) ConvertToSale(ctx context.Context, id uuid.UUID) (sales.SaleOrder, error) {
	order, lines, err := s.Get(ctx, id)
	if err != nil {
		return sales.SaleOrder{}, err
	}
	switch {
	case order.Status == StatusConverted:
		if _, err := s.sales.GetByPreOrder(ctx, id); err == nil {
			return sales.SaleOrder{}, ErrAlreadyConverted
		} else if !errors.Is(err, sales.ErrNotFound) {
			return sales.SaleOrder{}, err
		}
		// Transitioned but the sale never landed. Fall through and
		// finish the conversion.
	case !order.Status.convertible():
		return sales.SaleOrder{}, fmt.Errorf("%w: %s", ErrNotConvertible, order.Status)
	default:
		transitioned, err := s.repo.MarkConverted(ctx, id)
		if err != nil {
			return sales.SaleOrder{}, err
		}
		if !transitioned {
			return sales.SaleOrder{}, ErrAlreadyConverted
		}
	}

	number, err := s.sales.GenerateNumber(ctx, id)
	if err != nil {
		return sales.SaleOrder{}, fmt.Errorf("generate sale number: %w", err)
	}
	sale := sales.SaleOrder{
		ID:         uuid.New(),
		Number:     number,
		ClientID:   order.ClientID,
		PreOrderID: &order.ID,
		NetAmount:  order.NetAmount,
		AmountTTC:  order.AmountTTC,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.sales.CreateOrder(ctx, sale); err != nil {
		return sales.SaleOrder{}, fmt.Errorf("create sale order: %w", err)
	}
	for _, l := range lines {
		line := sales.SaleOrderLine{
			ID:          uuid.New(),
			SaleOrderID: sale.ID,
			ArticleID:   l.ArticleID,
			Quantity:    l.QuantityOrdered,
			UnitPrice:   l.UnitPrice,
			LineAmount:  l.LineAmount,
		}
		if err := s.sales.InsertLine(ctx, line); err != nil {
			return sale, fmt.Errorf("copy line for article %s: %w", l.ArticleID, err)
		}
	}

	s.recordAudit(ctx, "PREORDER_CONVERT", id, map[string]any{
		"sale_number": sale.Number,
		"lines":       len(lines),
	})
	return sale, nil
}

// ReplaceLines swaps the full line set: absent lines are deleted, the rest
// upserted, every line status recomputed and the parent totals rewritten.
// All four steps run on every replacement.
func (s *Service) ReplaceLines(ctx context.Context, id uuid.UUID, inputs []LineInput) (PreOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return PreOrder{}, err
	}
	if order.Status.Terminal() {
		return PreOrder{}, ErrTerminal
	}
	if len(inputs) == 0 {
		return PreOrder{}, ErrEmptyLines
	}
	for _, in := range inputs {
		if in.QuantityOrdered < 0 || in.QuantityDelivered < 0 || in.QuantityDelivered > in.QuantityOrdered {
			return PreOrder{}, fmt.Errorf("%w: article %s", ErrLineQuantities, in.ArticleID)
		}
	}

	keep := make([]uuid.UUID, len(inputs))
	for i, in := range inputs {
		keep[i] = in.ArticleID
	}
	if err := s.repo.DeleteLinesExcept(ctx, id, keep); err != nil {
		return PreOrder{}, err
	}

	net := decimal.Zero
	lines := make([]PreOrderLine, len(inputs))
	for i, in := range inputs {
		amount := in.UnitPrice.Mul(decimal.NewFromFloat(in.QuantityOrdered))
		line := PreOrderLine{
			ID:                uuid.New(),
			PreOrderID:        id,
			ArticleID:         in.ArticleID,
			QuantityOrdered:   in.QuantityOrdered,
			QuantityDelivered: in.QuantityDelivered,
			UnitPrice:         in.UnitPrice,
			LineAmount:        amount,
			Status:            reconcile.LineStatusOf(in.QuantityOrdered, in.QuantityDelivered),
		}
		if err := s.repo.UpsertLine(ctx, line); err != nil {
			return PreOrder{}, fmt.Errorf("upsert line for article %s: %w", in.ArticleID, err)
		}
		lines[i] = line
		net = net.Add(amount)
	}

	ttc := net.Mul(decimal.NewFromInt(1).Add(s.taxRate))
	if err := s.repo.SetTotals(ctx, id, net, ttc); err != nil {
		return PreOrder{}, err
	}

	order.NetAmount = net
	order.AmountTTC = ttc
	order.Status = DeriveStatus(order.Status, lines)
	s.recordAudit(ctx, "PREORDER_LINES_REPLACE", id, map[string]any{
		"lines": len(inputs),
		"net":   net.String(),
	})
	return order, nil
}

// OutstandingForArticle reports open pre-order demand for one article. The
// receiving side uses it to raise advisory alerts; nothing is reserved.
func (s *Service) OutstandingForArticle(ctx context.Context, articleID uuid.UUID) (float64, int, error) {
	return s.repo.Outstanding(ctx, articleID)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry{Action: action, Entity: "pre_order", EntityID: entityID.String(), Meta: meta})
}
