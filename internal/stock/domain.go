// Package stock tracks on-hand quantities per (article, location) pair.
// Increments are single atomic statements at the store so concurrent
// receipts for the same key stay additive.
package stock

import (
	"time"

	"github.com/google/uuid"
)

// Record is the stock position for one article at one location.
type Record struct {
	ArticleID         uuid.UUID
	LocationID        uuid.UUID
	QuantityAvailable float64
	QuantityReserved  float64
	UpdatedAt         time.Time
}
