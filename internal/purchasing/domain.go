// Package purchasing owns the purchase-order side of the fulfilment
// pipeline: order entry, validation, and the expansion of a validated order
// into its delivery note.
package purchasing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the purchase-order lifecycle. Validation is one-way.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusValidated OrderStatus = "validated"
)

// PurchaseOrder is the commitment to buy from a supplier. NetAmount is the
// sum of line amounts before incidental fees.
type PurchaseOrder struct {
	ID             uuid.UUID
	Number         string
	SupplierID     uuid.UUID
	Status         OrderStatus
	FreightFee     decimal.Decimal
	LogisticsFee   decimal.Decimal
	CustomsTransit decimal.Decimal
	NetAmount      decimal.Decimal
	CreatedAt      time.Time
	ValidatedAt    *time.Time
}

// PurchaseOrderLine is immutable once the order is validated.
type PurchaseOrderLine struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ArticleID       uuid.UUID
	QuantityOrdered float64
	UnitPrice       decimal.Decimal
	LineAmount      decimal.Decimal
}

var (
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("purchasing: order not found")
	// ErrAlreadyApproved rejects a second approval of the same order.
	ErrAlreadyApproved = errors.New("purchasing: order already approved")
	// ErrEmptyOrder rejects approval of an order without lines.
	ErrEmptyOrder = errors.New("purchasing: order has no lines")
	// ErrAmountMismatch indicates line amounts do not sum to the net amount.
	ErrAmountMismatch = errors.New("purchasing: line amounts do not match net amount")
)

// UnverifiedError reports an approval whose writes committed but whose
// post-hoc verification failed. The order is validated and a delivery note
// exists; callers repair via the reconciliation sweep instead of re-running
// the approval.
type UnverifiedError struct {
	OrderID       uuid.UUID
	NoteID        uuid.UUID
	ExpectedLines int
	ActualLines   int
}

func (e *UnverifiedError) Error() string {
	return fmt.Sprintf("purchasing: approval committed but unverified: note %s has %d of %d lines",
		e.NoteID, e.ActualLines, e.ExpectedLines)
}
