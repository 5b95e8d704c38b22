// Package catalog exposes the article read model. The catalog itself is
// owned by a collaborator; the reconciliation core only reads from it.
package catalog

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Article is one catalog item.
type Article struct {
	ID            uuid.UUID
	Reference     string
	Name          string
	UnitCostBasis decimal.Decimal
	UnitSalePrice decimal.Decimal
}

// ErrNotFound indicates the article does not exist.
var ErrNotFound = errors.New("catalog: article not found")
