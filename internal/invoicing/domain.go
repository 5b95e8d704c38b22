// Package invoicing derives payment and delivery status for sales invoices
// from the recorded payment and shipment sets. Payments are append only;
// every status is recomputed from the full set, never mutated in place.
package invoicing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
)

// PaymentStatus uses the literal values consumers of the suite expect.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "en_attente"
	PaymentPartial PaymentStatus = "partiellement_payee"
	PaymentPaid    PaymentStatus = "payee"
)

// PaymentStatusOf derives the status from the paid total against the
// invoice total. Overpayment still reads as paid.
func PaymentStatusOf(totalPaid, amountTTC decimal.Decimal) PaymentStatus {
	switch {
	case totalPaid.LessThanOrEqual(decimal.Zero):
		return PaymentPending
	case totalPaid.GreaterThanOrEqual(amountTTC):
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// SalesInvoice is the billing document whose statuses this package derives.
type SalesInvoice struct {
	ID             uuid.UUID
	Number         string
	ClientID       uuid.UUID
	AmountTTC      decimal.Decimal
	PaymentStatus  PaymentStatus
	DeliveryStatus reconcile.DocumentStatus
	CreatedAt      time.Time
}

// SalesInvoiceLine tracks delivery per article. Status is derived from the
// two quantities, never set directly.
type SalesInvoiceLine struct {
	ID                uuid.UUID
	InvoiceID         uuid.UUID
	ArticleID         uuid.UUID
	QuantityOrdered   float64
	QuantityDelivered float64
	Status            reconcile.LineStatus
}

// Payment is one versement against an invoice or a pre-order. Exactly one
// of InvoiceID/PreOrderID is set. Rows are never updated or deleted;
// corrections are additive.
type Payment struct {
	ID         uuid.UUID
	InvoiceID  *uuid.UUID
	PreOrderID *uuid.UUID
	Amount     decimal.Decimal
	Method     string
	RecordedAt time.Time
}

var (
	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = errors.New("invoicing: invoice not found")
	// ErrNegativeAmount rejects a negative payment. Refunds are separate
	// documents, not negative payments.
	ErrNegativeAmount = errors.New("invoicing: payment amount below zero")
	// ErrInvalidTarget rejects a payment that does not name exactly one of
	// invoice or pre-order.
	ErrInvalidTarget = errors.New("invoicing: payment must target one invoice or one pre-order")
	// ErrUnknownArticle rejects a delivery update for an article not on the
	// invoice.
	ErrUnknownArticle = errors.New("invoicing: article not on invoice")
	// ErrNegativeQuantity rejects a delivered quantity below zero.
	ErrNegativeQuantity = errors.New("invoicing: delivered quantity below zero")
)

// OverDeliveryError rejects a delivered quantity above the ordered one.
type OverDeliveryError struct {
	ArticleID uuid.UUID
	Ordered   float64
	Delivered float64
}

func (e *OverDeliveryError) Error() string {
	return fmt.Sprintf("invoicing: over-delivery for article %s: delivered %.2f of %.2f ordered",
		e.ArticleID, e.Delivered, e.Ordered)
}
