// Package backorder manages pre-orders: reservations taken before stock is
// on hand. Delivery state is derived from the lines on every load, so a
// quantity edit shows up immediately without an explicit transition.
package backorder

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
)

// Status uses the literal values consumers of the suite expect.
type Status string

const (
	StatusConfirmed Status = "confirmee"
	StatusPreparing Status = "en_preparation"
	StatusReady     Status = "prete"
	StatusPartial   Status = "partiellement_livree"
	StatusDelivered Status = "livree"
	StatusCancelled Status = "annulee"
	StatusConverted Status = "convertie_en_vente"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusConverted
}

// convertible lists the states a conversion may start from.
func (s Status) convertible() bool {
	return s == StatusReady || s == StatusConfirmed
}

// Alertable reports whether the order's demand counts toward back-order
// alerts: it still waits on stock. Ready orders await pickup, not
// replenishment.
func (s Status) Alertable() bool {
	return s == StatusConfirmed || s == StatusPreparing || s == StatusPartial
}

// PreOrder is a reservation awaiting stock. DepositPaid mirrors the summed
// payment set maintained by the payment engine.
type PreOrder struct {
	ID            uuid.UUID
	Number        string
	ClientID      uuid.UUID
	Status        Status
	DepositPaid   decimal.Decimal
	PaymentStatus string
	NetAmount     decimal.Decimal
	AmountTTC     decimal.Decimal
	CreatedAt     time.Time
}

// PreOrderLine tracks ordered versus delivered per article. Status is
// derived, never set by callers.
type PreOrderLine struct {
	ID                uuid.UUID
	PreOrderID        uuid.UUID
	ArticleID         uuid.UUID
	QuantityOrdered   float64
	QuantityDelivered float64
	UnitPrice         decimal.Decimal
	LineAmount        decimal.Decimal
	Status            reconcile.LineStatus
}

// DeriveStatus overlays the delivery state from the lines onto the stored
// lifecycle state. Terminal states are never overridden.
func DeriveStatus(stored Status, lines []PreOrderLine) Status {
	if stored.Terminal() {
		return stored
	}
	rl := make([]reconcile.Line, len(lines))
	for i, l := range lines {
		rl[i] = reconcile.Line{Ordered: l.QuantityOrdered, Fulfilled: l.QuantityDelivered}
	}
	switch reconcile.DocumentStatusOf(rl) {
	case reconcile.DocDelivered:
		return StatusDelivered
	case reconcile.DocPartial:
		return StatusPartial
	default:
		return stored
	}
}

var (
	// ErrNotFound indicates the pre-order does not exist.
	ErrNotFound = errors.New("backorder: pre-order not found")
	// ErrAlreadyConverted rejects a second conversion of the same pre-order.
	ErrAlreadyConverted = errors.New("backorder: pre-order already converted")
	// ErrNotConvertible rejects conversion outside the ready/confirmed states.
	ErrNotConvertible = errors.New("backorder: pre-order not in a convertible state")
	// ErrTerminal rejects any transition out of a terminal state.
	ErrTerminal = errors.New("backorder: pre-order is in a terminal state")
	// ErrInvalidStatus rejects an unknown lifecycle value.
	ErrInvalidStatus = errors.New("backorder: invalid status")
	// ErrEmptyLines rejects a line replacement that would leave no lines.
	ErrEmptyLines = errors.New("backorder: pre-order needs at least one line")
	// ErrLineQuantities rejects negative quantities or delivered above ordered.
	ErrLineQuantities = errors.New("backorder: invalid line quantities")
)
