// Package sales holds firm sale orders. The only producer in this system is
// pre-order conversion; order entry itself belongs to an outer surface.
package sales

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleOrder is a firm sale. PreOrderID links back to the converted
// pre-order when there is one.
type SaleOrder struct {
	ID         uuid.UUID
	Number     string
	ClientID   uuid.UUID
	PreOrderID *uuid.UUID
	NetAmount  decimal.Decimal
	AmountTTC  decimal.Decimal
	CreatedAt  time.Time
}

// SaleOrderLine is one line of a firm sale.
type SaleOrderLine struct {
	ID          uuid.UUID
	SaleOrderID uuid.UUID
	ArticleID   uuid.UUID
	Quantity    float64
	UnitPrice   decimal.Decimal
	LineAmount  decimal.Decimal
}

// ErrNotFound indicates the sale order does not exist.
var ErrNotFound = errors.New("sales: order not found")
