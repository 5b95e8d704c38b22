package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// RepositoryPort is the invoice persistence used by Service. Writes are
// single statements; payment rows are insert-only.
type RepositoryPort interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (SalesInvoice, error)
	GetInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]SalesInvoiceLine, error)
	AppendPayment(ctx context.Context, p Payment) error
	ListInvoicePayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)
	ListPreOrderPayments(ctx context.Context, preOrderID uuid.UUID) ([]Payment, error)
	SetPaymentStatus(ctx context.Context, invoiceID uuid.UUID, status PaymentStatus) error
	SetDeliveryStatus(ctx context.Context, invoiceID uuid.UUID, status reconcile.DocumentStatus) error
	UpdateLineDelivered(ctx context.Context, lineID uuid.UUID, qty float64, status reconcile.LineStatus) error
}

// PreOrderPort is the slice of the back-order store payments need: the
// document total to derive status against, and the derived payment state
// written back to the parent.
type PreOrderPort interface {
	AmountTTC(ctx context.Context, preOrderID uuid.UUID) (decimal.Decimal, error)
	SetPaymentState(ctx context.Context, preOrderID uuid.UUID, depositPaid decimal.Decimal, status PaymentStatus) error
}

// AuditPort records the audit trail.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// MetricsPort counts recorded payments.
type MetricsPort interface {
	PaymentRecorded(target string)
}

// IdempotencyPort claims client-supplied payment keys so a retried request
// does not append the same payment twice.
type IdempotencyPort interface {
	Claim(ctx context.Context, key, operation string) error
	Release(ctx context.Context, key string) error
}

// PaymentRequest records one payment. Exactly one of InvoiceID/PreOrderID
// must be set. A zero amount refreshes the status without appending.
type PaymentRequest struct {
	InvoiceID  *uuid.UUID
	PreOrderID *uuid.UUID
	Amount     decimal.Decimal
	Method     string
	// Key is the optional client idempotency key. A replayed key refreshes
	// the status without appending another payment row.
	Key string
}

// Service recomputes payment and delivery statuses.
type Service struct {
	repo      RepositoryPort
	preOrders PreOrderPort
	keys      IdempotencyPort
	audit     AuditPort
	metrics   MetricsPort
}

// NewService constructs the invoicing service.
func NewService(repo RepositoryPort, preOrders PreOrderPort, keys IdempotencyPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, preOrders: preOrders, keys: keys, audit: audit, metrics: metrics}
}

// RecordPayment appends the payment and recomputes the target's payment
// status from the full payment set. The append-then-recompute order makes
// concurrent payments on the same target commute: whichever recompute runs
// last sees every appended row.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (PaymentStatus, error) {
	if req.Amount.IsNegative() {
		return "", ErrNegativeAmount
	}
	if (req.InvoiceID == nil) == (req.PreOrderID == nil) {
		return "", ErrInvalidTarget
	}

	claimed := false
	if req.Key != "" && s.keys != nil {
		switch err := s.keys.Claim(ctx, req.Key, "invoicing.payment"); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			// Replay of an already-applied payment: recompute only.
			req.Amount = decimal.Zero
		case err != nil:
			return "", fmt.Errorf("claim payment key: %w", err)
		default:
			claimed = true
		}
	}

	if req.Amount.IsPositive() {
		p := Payment{
			ID:         uuid.New(),
			InvoiceID:  req.InvoiceID,
			PreOrderID: req.PreOrderID,
			Amount:     req.Amount,
			Method:     req.Method,
			RecordedAt: time.Now().UTC(),
		}
		if err := s.repo.AppendPayment(ctx, p); err != nil {
			if claimed {
				_ = s.keys.Release(ctx, req.Key)
			}
			return "", fmt.Errorf("append payment: %w", err)
		}
	}

	var (
		status PaymentStatus
		err    error
		target string
		entity string
		id     uuid.UUID
	)
	if req.InvoiceID != nil {
		status, err = s.refreshInvoicePayment(ctx, *req.InvoiceID)
		target, entity, id = "invoice", "sales_invoice", *req.InvoiceID
	} else {
		status, err = s.refreshPreOrderPayment(ctx, *req.PreOrderID)
		target, entity, id = "pre_order", "pre_order", *req.PreOrderID
	}
	if err != nil {
		return "", err
	}
	s.countPayment(target)
	s.recordAudit(ctx, "PAYMENT_RECORD", entity, id, map[string]any{"status": string(status)})
	return status, nil
}

func (s *Service) refreshInvoicePayment(ctx context.Context, invoiceID uuid.UUID) (PaymentStatus, error) {
	invoice, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	payments, err := s.repo.ListInvoicePayments(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	status := PaymentStatusOf(sumPayments(payments), invoice.AmountTTC)
	if err := s.repo.SetPaymentStatus(ctx, invoiceID, status); err != nil {
		return "", err
	}
	return status, nil
}

func (s *Service) refreshPreOrderPayment(ctx context.Context, preOrderID uuid.UUID) (PaymentStatus, error) {
	amountTTC, err := s.preOrders.AmountTTC(ctx, preOrderID)
	if err != nil {
		return "", err
	}
	payments, err := s.repo.ListPreOrderPayments(ctx, preOrderID)
	if err != nil {
		return "", err
	}
	total := sumPayments(payments)
	status := PaymentStatusOf(total, amountTTC)
	if err := s.preOrders.SetPaymentState(ctx, preOrderID, total, status); err != nil {
		return "", err
	}
	return status, nil
}

// UpdateDeliveredQuantities sets per-line delivered quantities, recomputes
// each line's status and then the invoice's aggregate delivery status.
// Validation is fail-fast: no line is written until every entry has passed.
func (s *Service) UpdateDeliveredQuantities(ctx context.Context, invoiceID uuid.UUID, delivered map[uuid.UUID]float64) (reconcile.DocumentStatus, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return "", err
	}
	lines, err := s.repo.GetInvoiceLines(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	byArticle := make(map[uuid.UUID]SalesInvoiceLine, len(lines))
	for _, l := range lines {
		byArticle[l.ArticleID] = l
	}

	for articleID, qty := range delivered {
		line, ok := byArticle[articleID]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownArticle, articleID)
		}
		if qty < 0 {
			return "", fmt.Errorf("%w: article %s", ErrNegativeQuantity, articleID)
		}
		if qty > line.QuantityOrdered {
			return "", &OverDeliveryError{ArticleID: articleID, Ordered: line.QuantityOrdered, Delivered: qty}
		}
	}

	for i, l := range lines {
		qty, ok := delivered[l.ArticleID]
		if !ok {
			continue
		}
		status := reconcile.LineStatusOf(l.QuantityOrdered, qty)
		if err := s.repo.UpdateLineDelivered(ctx, l.ID, qty, status); err != nil {
			return "", fmt.Errorf("update line for article %s: %w", l.ArticleID, err)
		}
		lines[i].QuantityDelivered = qty
		lines[i].Status = status
	}

	docStatus := deliveryStatusOf(lines)
	if err := s.repo.SetDeliveryStatus(ctx, invoiceID, docStatus); err != nil {
		return "", err
	}
	s.recordAudit(ctx, "INVOICE_DELIVERY_UPDATE", "sales_invoice", invoiceID, map[string]any{
		"status": string(docStatus),
		"lines":  len(delivered),
	})
	return docStatus, nil
}

// Refresh recomputes both statuses of one invoice from its stored payment
// and line sets. The reconciliation sweep calls it to settle any status that
// drifted from a partially-applied sequence.
func (s *Service) Refresh(ctx context.Context, invoiceID uuid.UUID) error {
	if _, err := s.refreshInvoicePayment(ctx, invoiceID); err != nil {
		return err
	}
	lines, err := s.repo.GetInvoiceLines(ctx, invoiceID)
	if err != nil {
		return err
	}
	return s.repo.SetDeliveryStatus(ctx, invoiceID, deliveryStatusOf(lines))
}

func deliveryStatusOf(lines []SalesInvoiceLine) reconcile.DocumentStatus {
	rl := make([]reconcile.Line, len(lines))
	for i, l := range lines {
		rl[i] = reconcile.Line{Ordered: l.QuantityOrdered, Fulfilled: l.QuantityDelivered}
	}
	return reconcile.DocumentStatusOf(rl)
}

func sumPayments(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

func (s *Service) countPayment(target string) {
	if s.metrics != nil {
		s.metrics.PaymentRecorded(target)
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry{Action: action, Entity: entity, EntityID: entityID.String(), Meta: meta})
}
