// Package notify carries the advisory events the reconciliation core emits:
// approval outcomes for dashboards and back-order alerts for operators.
// Alerts never allocate stock; they are signals only.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ApprovalEvent reports the outcome of a purchase-order approval.
type ApprovalEvent struct {
	OrderID            uuid.UUID `json:"order_id"`
	OrderNumber        string    `json:"order_number"`
	DeliveryNoteID     uuid.UUID `json:"delivery_note_id,omitempty"`
	DeliveryNoteNumber string    `json:"delivery_note_number,omitempty"`
	Success            bool      `json:"success"`
	Reason             string    `json:"reason,omitempty"`
	At                 time.Time `json:"at"`
}

// BackorderAlert lists outstanding pre-order demand for one article after a
// receipt made new stock available.
type BackorderAlert struct {
	ArticleID        uuid.UUID `json:"article_id"`
	TotalOutstanding float64   `json:"total_outstanding"`
	PreOrderCount    int       `json:"pre_order_count"`
	At               time.Time `json:"at"`
}

// Publisher fans events out to interested consumers.
type Publisher interface {
	PublishApproval(ctx context.Context, evt ApprovalEvent) error
	PublishBackorderAlert(ctx context.Context, alert BackorderAlert) error
}
