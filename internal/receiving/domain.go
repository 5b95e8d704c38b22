// Package receiving owns delivery notes and the processing of goods
// receipts into stock.
package receiving

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NoteStatus is the delivery-note lifecycle.
type NoteStatus string

const (
	NoteStatusInTransit NoteStatus = "in_transit"
	NoteStatusReceived  NoteStatus = "received"
)

// Destination identifies the kind of location goods are received into.
type Destination string

const (
	DestinationWarehouse   Destination = "warehouse"
	DestinationPointOfSale Destination = "point_of_sale"
)

// Valid reports whether the destination kind is known.
func (d Destination) Valid() bool {
	return d == DestinationWarehouse || d == DestinationPointOfSale
}

// DeliveryNote is the receiving document generated from a validated
// purchase order. Exactly one note exists per order.
type DeliveryNote struct {
	ID              uuid.UUID
	Number          string
	PurchaseOrderID uuid.UUID
	SupplierID      uuid.UUID
	Status          NoteStatus
	DestinationKind Destination
	DestinationID   uuid.UUID
	FreightFee      decimal.Decimal
	LogisticsFee    decimal.Decimal
	CustomsTransit  decimal.Decimal
	ReceivedAt      *time.Time
	CreatedAt       time.Time
}

// DeliveryNoteLine mirrors a purchase-order line. QuantityReceived stays 0
// until reception. StockApplied records that the stock increment for this
// line went through; unapplied lines on a received note are picked up again
// by the retry pass.
type DeliveryNoteLine struct {
	ID               uuid.UUID
	NoteID           uuid.UUID
	ArticleID        uuid.UUID
	QuantityOrdered  float64
	QuantityReceived float64
	UnitPrice        decimal.Decimal
	LineAmount       decimal.Decimal
	StockApplied     bool
}

var (
	// ErrNotFound indicates the delivery note does not exist.
	ErrNotFound = errors.New("receiving: delivery note not found")
	// ErrAlreadyReceived rejects a second reception of the same note.
	ErrAlreadyReceived = errors.New("receiving: delivery note already received")
	// ErrInvalidDestination rejects an unknown destination.
	ErrInvalidDestination = errors.New("receiving: invalid destination")
	// ErrUnknownArticle rejects a receipt line with no matching note line.
	ErrUnknownArticle = errors.New("receiving: article not on delivery note")
	// ErrNegativeQuantity rejects a receipt line below zero.
	ErrNegativeQuantity = errors.New("receiving: received quantity below zero")
)

// OverReceiptError rejects a received quantity above the ordered quantity.
type OverReceiptError struct {
	ArticleID uuid.UUID
	Ordered   float64
	Received  float64
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("receiving: over-receipt for article %s: received %.2f of %.2f ordered",
		e.ArticleID, e.Received, e.Ordered)
}
