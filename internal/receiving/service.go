package receiving

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoir-erp/comptoir-erp/internal/notify"
	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// RepositoryPort is the note persistence used by Service.
type RepositoryPort interface {
	GetNote(ctx context.Context, id uuid.UUID) (DeliveryNote, error)
	GetNoteLines(ctx context.Context, noteID uuid.UUID) ([]DeliveryNoteLine, error)
	UpdateLineReceived(ctx context.Context, lineID uuid.UUID, qty float64) error
	// MarkReceived transitions in_transit to received in one conditional
	// statement and reports whether this call made the transition.
	MarkReceived(ctx context.Context, noteID uuid.UUID, dest Destination, destID uuid.UUID, at time.Time) (bool, error)
	// ClaimLineStock claims the line's increment; exactly one concurrent
	// caller sees true. ReleaseLineStock undoes a claim whose increment
	// failed.
	ClaimLineStock(ctx context.Context, lineID uuid.UUID) (bool, error)
	ReleaseLineStock(ctx context.Context, lineID uuid.UUID) error
}

// StockPort applies atomic quantity increments at the destination.
type StockPort interface {
	Increment(ctx context.Context, articleID, locationID uuid.UUID, qty float64) error
}

// BackorderPort reports outstanding pre-order demand for an article.
type BackorderPort interface {
	OutstandingForArticle(ctx context.Context, articleID uuid.UUID) (total float64, preOrders int, err error)
}

// AuditPort records the audit trail.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// MetricsPort counts receipt outcomes.
type MetricsPort interface {
	ReceiptRecorded(outcome string)
}

// ReceiptLine is one line of a receipt request, keyed by article.
type ReceiptLine struct {
	ArticleID        uuid.UUID
	QuantityReceived float64
}

// ReceiveRequest receives a whole delivery note into one destination.
type ReceiveRequest struct {
	NoteID        uuid.UUID
	Destination   Destination
	DestinationID uuid.UUID
	Lines         []ReceiptLine
}

// LineResult reports what happened to one line of the receipt. StockApplied
// is false when the quantity was zero or the increment failed; Err carries
// the increment failure.
type LineResult struct {
	ArticleID        uuid.UUID
	QuantityReceived float64
	Status           reconcile.LineStatus
	StockApplied     bool
	Err              error
}

// Receipt is the outcome of a processed delivery.
type Receipt struct {
	Note    DeliveryNote
	Results []LineResult
}

// Service processes goods receipts.
type Service struct {
	repo       RepositoryPort
	stock      StockPort
	backorders BackorderPort
	events     notify.Publisher
	audit      AuditPort
	metrics    MetricsPort
}

// NewService constructs the receiving service.
func NewService(repo RepositoryPort, stock StockPort, backorders BackorderPort, events notify.Publisher, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, stock: stock, backorders: backorders, events: events, audit: audit, metrics: metrics}
}

// Receive validates every line of the request, persists the received
// quantities, marks the note received and applies the stock increments.
//
// Validation is fail-fast: nothing is written until every line has passed.
// Stock increments come after the status transition and are applied line by
// line; a failed increment is reported in its LineResult and the lines
// already applied stay applied. The sweep retries failed increments from the
// persisted quantities.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (Receipt, error) {
	note, err := s.repo.GetNote(ctx, req.NoteID)
	if err != nil {
		return Receipt{}, err
	}
	if note.Status == NoteStatusReceived {
		return Receipt{}, ErrAlreadyReceived
	}
	if !req.Destination.Valid() || req.DestinationID == uuid.Nil {
		return Receipt{}, ErrInvalidDestination
	}

	lines, err := s.repo.GetNoteLines(ctx, req.NoteID)
	if err != nil {
		return Receipt{}, err
	}
	byArticle := make(map[uuid.UUID]DeliveryNoteLine, len(lines))
	for _, l := range lines {
		byArticle[l.ArticleID] = l
	}

	for _, rl := range req.Lines {
		line, ok := byArticle[rl.ArticleID]
		if !ok {
			return Receipt{}, fmt.Errorf("%w: %s", ErrUnknownArticle, rl.ArticleID)
		}
		if rl.QuantityReceived < 0 {
			return Receipt{}, fmt.Errorf("%w: article %s", ErrNegativeQuantity, rl.ArticleID)
		}
		if rl.QuantityReceived > line.QuantityOrdered {
			return Receipt{}, &OverReceiptError{
				ArticleID: rl.ArticleID,
				Ordered:   line.QuantityOrdered,
				Received:  rl.QuantityReceived,
			}
		}
	}

	for _, rl := range req.Lines {
		if err := s.repo.UpdateLineReceived(ctx, byArticle[rl.ArticleID].ID, rl.QuantityReceived); err != nil {
			return Receipt{}, fmt.Errorf("persist received quantity for article %s: %w", rl.ArticleID, err)
		}
	}

	now := time.Now().UTC()
	transitioned, err := s.repo.MarkReceived(ctx, req.NoteID, req.Destination, req.DestinationID, now)
	if err != nil {
		return Receipt{}, err
	}
	if !transitioned {
		return Receipt{}, ErrAlreadyReceived
	}
	note.Status = NoteStatusReceived
	note.DestinationKind = req.Destination
	note.DestinationID = req.DestinationID
	note.ReceivedAt = &now

	results := s.applyStock(ctx, req, byArticle)
	s.alertBackorders(ctx, results, now)

	outcome := "success"
	for _, r := range results {
		if r.Err != nil {
			outcome = "partial_stock"
			break
		}
	}
	if s.metrics != nil {
		s.metrics.ReceiptRecorded(outcome)
	}
	s.recordAudit(ctx, note, results)

	return Receipt{Note: note, Results: results}, nil
}

func (s *Service) applyStock(ctx context.Context, req ReceiveRequest, byArticle map[uuid.UUID]DeliveryNoteLine) []LineResult {
	results := make([]LineResult, 0, len(req.Lines))
	for _, rl := range req.Lines {
		res := LineResult{
			ArticleID:        rl.ArticleID,
			QuantityReceived: rl.QuantityReceived,
			Status:           reconcile.LineStatusOf(byArticle[rl.ArticleID].QuantityOrdered, rl.QuantityReceived),
		}
		if rl.QuantityReceived > 0 {
			applied, err := s.applyLineStock(ctx, byArticle[rl.ArticleID].ID, rl.ArticleID, req.DestinationID, rl.QuantityReceived)
			res.StockApplied = applied
			res.Err = err
		}
		results = append(results, res)
	}
	return results
}

// applyLineStock claims the line marker, then increments. A failed increment
// releases the claim so the retry pass sees the line again; an already
// claimed line is skipped, which is what makes the retry idempotent.
func (s *Service) applyLineStock(ctx context.Context, lineID, articleID, locationID uuid.UUID, qty float64) (bool, error) {
	claimed, err := s.repo.ClaimLineStock(ctx, lineID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	if err := s.stock.Increment(ctx, articleID, locationID, qty); err != nil {
		_ = s.repo.ReleaseLineStock(ctx, lineID)
		return false, err
	}
	return true, nil
}

// ApplyPendingStock re-applies the stock increments a received note still
// owes, from the persisted quantities and the per-line applied markers. It
// reports how many lines it applied; lines that fail again stay pending for
// the next pass.
func (s *Service) ApplyPendingStock(ctx context.Context, noteID uuid.UUID) (int, error) {
	note, err := s.repo.GetNote(ctx, noteID)
	if err != nil {
		return 0, err
	}
	if note.Status != NoteStatusReceived {
		return 0, nil
	}
	lines, err := s.repo.GetNoteLines(ctx, noteID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, l := range lines {
		if l.StockApplied || l.QuantityReceived <= 0 {
			continue
		}
		ok, err := s.applyLineStock(ctx, l.ID, l.ArticleID, note.DestinationID, l.QuantityReceived)
		if err != nil || !ok {
			continue
		}
		applied++
	}
	if applied > 0 && s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditEntry{
			Action:   "DN_STOCK_RETRY",
			Entity:   "delivery_note",
			EntityID: note.ID.String(),
			Meta:     map[string]any{"number": note.Number, "applied": applied},
		})
	}
	return applied, nil
}

// alertBackorders emits one advisory alert per received article that has
// outstanding pre-order demand. Alerts never allocate stock.
func (s *Service) alertBackorders(ctx context.Context, results []LineResult, at time.Time) {
	if s.backorders == nil || s.events == nil {
		return
	}
	for _, r := range results {
		if r.QuantityReceived <= 0 {
			continue
		}
		total, count, err := s.backorders.OutstandingForArticle(ctx, r.ArticleID)
		if err != nil || count == 0 {
			continue
		}
		_ = s.events.PublishBackorderAlert(ctx, notify.BackorderAlert{
			ArticleID:        r.ArticleID,
			TotalOutstanding: total,
			PreOrderCount:    count,
			At:               at,
		})
	}
}

func (s *Service) recordAudit(ctx context.Context, note DeliveryNote, results []LineResult) {
	if s.audit == nil {
		return
	}
	applied := 0
	for _, r := range results {
		if r.StockApplied {
			applied++
		}
	}
	_ = s.audit.Record(ctx, shared.AuditEntry{
		Action:   "DN_RECEIVE",
		Entity:   "delivery_note",
		EntityID: note.ID.String(),
		Meta: map[string]any{
			"number":      note.Number,
			"destination": string(note.DestinationKind),
			"lines":       len(results),
			"applied":     applied,
		},
	})
}
