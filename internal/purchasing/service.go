package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/landedcost"
	"github.com/comptoir-erp/comptoir-erp/internal/notify"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// RepositoryPort describes the purchase-order persistence used by Service.
// Every write is a single statement; there is no unit-of-work.
type RepositoryPort interface {
	GetOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	GetOrderLines(ctx context.Context, orderID uuid.UUID) ([]PurchaseOrderLine, error)
	// MarkValidated flips draft to validated in one conditional statement
	// and reports whether this call performed the transition.
	MarkValidated(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// DeliveryNotePort is the slice of the receiving store the approval
// pipeline needs to expand an order into its note.
type DeliveryNotePort interface {
	// GenerateNumber returns the note number for an order number. The
	// generator is synchronized at the store and returns the same number
	// when the approval is retried.
	GenerateNumber(ctx context.Context, orderNumber string) (string, error)
	CreateNote(ctx context.Context, note receiving.DeliveryNote) error
	InsertNoteLine(ctx context.Context, line receiving.DeliveryNoteLine) error
	// GetNoteByOrder returns the note for an order with its line count.
	GetNoteByOrder(ctx context.Context, orderID uuid.UUID) (receiving.DeliveryNote, int, error)
	GetNoteLines(ctx context.Context, noteID uuid.UUID) ([]receiving.DeliveryNoteLine, error)
}

// AuditPort records the audit trail.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// MetricsPort counts approval outcomes.
type MetricsPort interface {
	ApprovalRecorded(outcome string)
}

// Service orchestrates the purchase approval pipeline.
type Service struct {
	repo    RepositoryPort
	notes   DeliveryNotePort
	events  notify.Publisher
	audit   AuditPort
	metrics MetricsPort
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, notes DeliveryNotePort, events notify.Publisher, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, notes: notes, events: events, audit: audit, metrics: metrics}
}

// Approve validates a draft order and expands it into a delivery note.
//
// The sequence is stepwise: each write commits on its own. Validation
// errors surface before any write. Once the status transition commits, a
// failure leaves a partially-applied approval; the post-hoc verification
// reports it as an UnverifiedError so callers repair (via the sweep)
// instead of re-running the whole approval and duplicating lines.
func (s *Service) Approve(ctx context.Context, orderID uuid.UUID) (receiving.DeliveryNote, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return receiving.DeliveryNote{}, err
	}
	if order.Status == OrderStatusValidated {
		return receiving.DeliveryNote{}, ErrAlreadyApproved
	}

	lines, err := s.repo.GetOrderLines(ctx, orderID)
	if err != nil {
		return receiving.DeliveryNote{}, err
	}
	if len(lines) == 0 {
		return receiving.DeliveryNote{}, ErrEmptyOrder
	}
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LineAmount)
	}
	if !sum.Equal(order.NetAmount) {
		return receiving.DeliveryNote{}, fmt.Errorf("%w: lines %s, net %s", ErrAmountMismatch, sum, order.NetAmount)
	}

	// The conditional update is the concurrency guard: of two racing
	// approvals only one transitions, the other reports AlreadyApproved.
	now := time.Now().UTC()
	transitioned, err := s.repo.MarkValidated(ctx, orderID, now)
	if err != nil {
		return receiving.DeliveryNote{}, err
	}
	if !transitioned {
		return receiving.DeliveryNote{}, ErrAlreadyApproved
	}

	note, err := s.expandToNote(ctx, order, lines, now)
	if err != nil {
		s.publishApproval(ctx, order, note, false, err.Error())
		s.countApproval("failure")
		return note, err
	}

	verified, err := s.verifyExpansion(ctx, order, len(lines))
	if err != nil {
		s.publishApproval(ctx, order, note, false, err.Error())
		s.countApproval("unverified")
		return note, err
	}

	s.publishApproval(ctx, order, verified, true, "")
	s.countApproval("success")
	s.recordAudit(ctx, "PO_APPROVE", order.ID, map[string]any{
		"number":      order.Number,
		"note_number": verified.Number,
		"lines":       len(lines),
	})
	return verified, nil
}

// expandToNote runs steps 3-5: number generation, note creation, 1:1 line
// copy with received quantity zero.
func (s *Service) expandToNote(ctx context.Context, order PurchaseOrder, lines []PurchaseOrderLine, now time.Time) (receiving.DeliveryNote, error) {
	number, err := s.notes.GenerateNumber(ctx, order.Number)
	if err != nil {
		return receiving.DeliveryNote{}, fmt.Errorf("generate note number: %w", err)
	}

	note := receiving.DeliveryNote{
		ID:              uuid.New(),
		Number:          number,
		PurchaseOrderID: order.ID,
		SupplierID:      order.SupplierID,
		Status:          receiving.NoteStatusInTransit,
		FreightFee:      order.FreightFee,
		LogisticsFee:    order.LogisticsFee,
		CustomsTransit:  order.CustomsTransit,
		CreatedAt:       now,
	}
	if err := s.notes.CreateNote(ctx, note); err != nil {
		return note, fmt.Errorf("create delivery note: %w", err)
	}

	for _, l := range lines {
		line := receiving.DeliveryNoteLine{
			ID:              uuid.New(),
			NoteID:          note.ID,
			ArticleID:       l.ArticleID,
			QuantityOrdered: l.QuantityOrdered,
			UnitPrice:       l.UnitPrice,
			LineAmount:      l.LineAmount,
		}
		if err := s.notes.InsertNoteLine(ctx, line); err != nil {
			return note, fmt.Errorf("copy line for article %s: %w", l.ArticleID, err)
		}
	}
	return note, nil
}

// verifyExpansion is step 6: re-read the created note and compare line
// counts against the source order.
func (s *Service) verifyExpansion(ctx context.Context, order PurchaseOrder, expected int) (receiving.DeliveryNote, error) {
	note, count, err := s.notes.GetNoteByOrder(ctx, order.ID)
	if err != nil {
		return note, fmt.Errorf("verify delivery note: %w", err)
	}
	if count != expected {
		return note, &UnverifiedError{OrderID: order.ID, NoteID: note.ID, ExpectedLines: expected, ActualLines: count}
	}
	return note, nil
}

// Repair resumes a partially-applied approval: it recreates the missing
// note or inserts the missing lines for an already-validated order. It is
// idempotent and safe to call from the reconciliation sweep.
func (s *Service) Repair(ctx context.Context, orderID uuid.UUID) (bool, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.Status != OrderStatusValidated {
		return false, nil
	}
	lines, err := s.repo.GetOrderLines(ctx, orderID)
	if err != nil {
		return false, err
	}

	note, count, err := s.notes.GetNoteByOrder(ctx, orderID)
	switch {
	case errors.Is(err, receiving.ErrNotFound):
		// Note missing entirely: redo the expansion.
		if _, err := s.expandToNote(ctx, order, lines, time.Now().UTC()); err != nil {
			return false, err
		}
	case err != nil:
		return false, err
	case count == len(lines):
		return false, nil
	default:
		if err := s.fillMissingLines(ctx, note, lines); err != nil {
			return false, err
		}
	}

	if _, err := s.verifyExpansion(ctx, order, len(lines)); err != nil {
		return false, err
	}
	s.recordAudit(ctx, "PO_REPAIR", order.ID, map[string]any{"number": order.Number})
	return true, nil
}

func (s *Service) fillMissingLines(ctx context.Context, note receiving.DeliveryNote, lines []PurchaseOrderLine) error {
	existing, err := s.noteArticleSet(ctx, note.ID)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if existing[l.ArticleID] {
			continue
		}
		line := receiving.DeliveryNoteLine{
			ID:              uuid.New(),
			NoteID:          note.ID,
			ArticleID:       l.ArticleID,
			QuantityOrdered: l.QuantityOrdered,
			UnitPrice:       l.UnitPrice,
			LineAmount:      l.LineAmount,
		}
		if err := s.notes.InsertNoteLine(ctx, line); err != nil {
			return fmt.Errorf("repair line for article %s: %w", l.ArticleID, err)
		}
	}
	return nil
}

// LineCost pairs an order line with its allocated fee share and landed
// unit cost.
type LineCost struct {
	Line           PurchaseOrderLine
	AllocatedFee   decimal.Decimal
	LandedUnitCost decimal.Decimal
}

// LandedCosts allocates the order's incidental fees across its lines.
func (s *Service) LandedCosts(ctx context.Context, orderID uuid.UUID) ([]LineCost, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}

	alloc := make([]landedcost.Line, len(lines))
	for i, l := range lines {
		alloc[i] = landedcost.Line{Quantity: l.QuantityOrdered, UnitPrice: l.UnitPrice, Amount: l.LineAmount}
	}
	fees := landedcost.Fees{Freight: order.FreightFee, Logistics: order.LogisticsFee, CustomsTransit: order.CustomsTransit}
	allocations := landedcost.Allocate(order.NetAmount, fees, alloc)

	out := make([]LineCost, len(lines))
	for i, a := range allocations {
		out[i] = LineCost{Line: lines[i], AllocatedFee: a.Fee, LandedUnitCost: a.LandedUnitCost}
	}
	return out, nil
}

func (s *Service) publishApproval(ctx context.Context, order PurchaseOrder, note receiving.DeliveryNote, success bool, reason string) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishApproval(ctx, notify.ApprovalEvent{
		OrderID:            order.ID,
		OrderNumber:        order.Number,
		DeliveryNoteID:     note.ID,
		DeliveryNoteNumber: note.Number,
		Success:            success,
		Reason:             reason,
		At:                 time.Now().UTC(),
	})
}

func (s *Service) countApproval(outcome string) {
	if s.metrics != nil {
		s.metrics.ApprovalRecorded(outcome)
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry{Action: action, Entity: "purchase_order", EntityID: entityID.String(), Meta: meta})
}

func (s *Service) noteArticleSet(ctx context.Context, noteID uuid.UUID) (map[uuid.UUID]bool, error) {
	existing, err := s.notes.GetNoteLines(ctx, noteID)
	if err != nil {
		return nil, err
	}
	set := make(map[uuid.UUID]bool, len(existing))
	for _, l := range existing {
		set[l.ArticleID] = true
	}
	return set, nil
}
