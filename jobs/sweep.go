package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/comptoir-erp/comptoir-erp/internal/notify"
)

// OrderSweepPort lists and repairs validated purchase orders.
type OrderSweepPort interface {
	ListValidatedIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// ApprovalRepairer resumes partially-applied approvals.
type ApprovalRepairer interface {
	Repair(ctx context.Context, orderID uuid.UUID) (bool, error)
}

// InvoiceSweepPort lists invoices and settles their derived statuses.
type InvoiceSweepPort interface {
	ListRecentIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// InvoiceRefresher recomputes one invoice's statuses from its stored sets.
type InvoiceRefresher interface {
	Refresh(ctx context.Context, invoiceID uuid.UUID) error
}

// StockSweepPort lists received notes that still owe stock increments.
type StockSweepPort interface {
	ListPendingStock(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// StockRetrier re-applies the pending increments of one received note.
type StockRetrier interface {
	ApplyPendingStock(ctx context.Context, noteID uuid.UUID) (int, error)
}

// KeyCleaner drops idempotency claims past their retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// SweepMetrics counts repaired approvals.
type SweepMetrics interface {
	SweepRepaired()
}

// keyRetention is how long a payment idempotency claim is honored before
// the sweep drops it.
const keyRetention = 24 * time.Hour

// SweeperConfig collects the sweep's collaborators. Notes/Stock and Keys
// legs are optional.
type SweeperConfig struct {
	Logger    *slog.Logger
	Orders    OrderSweepPort
	Repairer  ApprovalRepairer
	Invoices  InvoiceSweepPort
	Refresher InvoiceRefresher
	Notes     StockSweepPort
	Stock     StockRetrier
	Keys      KeyCleaner
	Metrics   SweepMetrics
	BatchSize int
}

// Sweeper walks validated orders, received notes and recent invoices,
// repairing whatever a crashed multi-step sequence left behind. Every repair
// is idempotent, so overlapping sweep runs are harmless.
type Sweeper struct {
	cfg SweeperConfig
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Sweeper{cfg: cfg}
}

// HandleReconcileSweep is the asynq handler for TaskReconcileSweep.
func (s *Sweeper) HandleReconcileSweep(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	start := time.Now()
	repaired, err := s.Run(ctx)
	if err != nil {
		return err
	}
	s.cfg.Logger.Info("reconciliation sweep finished",
		slog.Int("repaired", repaired),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Run executes one sweep pass and reports how many repairs it made: order
// approvals resumed plus stock lines re-applied.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	repaired, err := s.repairApprovals(ctx)
	if err != nil {
		return repaired, err
	}

	applied, err := s.retryStock(ctx)
	repaired += applied
	if err != nil {
		return repaired, err
	}

	if s.cfg.Invoices != nil && s.cfg.Refresher != nil {
		invoiceIDs, err := s.cfg.Invoices.ListRecentIDs(ctx, s.cfg.BatchSize)
		if err != nil {
			return repaired, err
		}
		for _, id := range invoiceIDs {
			if err := s.cfg.Refresher.Refresh(ctx, id); err != nil {
				s.cfg.Logger.Warn("sweep invoice refresh failed",
					slog.String("invoice_id", id.String()),
					slog.Any("error", err))
			}
		}
	}

	if s.cfg.Keys != nil {
		if err := s.cfg.Keys.Cleanup(ctx, keyRetention); err != nil {
			s.cfg.Logger.Warn("sweep key cleanup failed", slog.Any("error", err))
		}
	}
	return repaired, nil
}

func (s *Sweeper) repairApprovals(ctx context.Context) (int, error) {
	ids, err := s.cfg.Orders.ListValidatedIDs(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	results := make([]bool, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			ok, err := s.cfg.Repairer.Repair(gctx, id)
			if err != nil {
				// One broken order must not stall the whole sweep.
				s.cfg.Logger.Warn("sweep repair failed",
					slog.String("order_id", id.String()),
					slog.Any("error", err))
				return nil
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	repaired := 0
	for _, ok := range results {
		if ok {
			repaired++
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.SweepRepaired()
			}
		}
	}
	return repaired, nil
}

// retryStock re-applies increments for received notes whose lines are still
// marked unapplied. The per-line claim makes re-application single-shot even
// when sweep runs overlap.
func (s *Sweeper) retryStock(ctx context.Context) (int, error) {
	if s.cfg.Notes == nil || s.cfg.Stock == nil {
		return 0, nil
	}
	noteIDs, err := s.cfg.Notes.ListPendingStock(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, id := range noteIDs {
		n, err := s.cfg.Stock.ApplyPendingStock(ctx, id)
		if err != nil {
			s.cfg.Logger.Warn("sweep stock retry failed",
				slog.String("note_id", id.String()),
				slog.Any("error", err))
			continue
		}
		applied += n
		for i := 0; i < n; i++ {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.SweepRepaired()
			}
		}
	}
	return applied, nil
}

// DemandPort lists articles with outstanding pre-order demand and sums it.
type DemandPort interface {
	ArticlesWithDemand(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// OutstandingPort reports open demand for one article.
type OutstandingPort interface {
	OutstandingForArticle(ctx context.Context, articleID uuid.UUID) (float64, int, error)
}

// Scanner periodically re-emits advisory back-order alerts so operators see
// open demand even when no receipt happened recently.
type Scanner struct {
	logger    *slog.Logger
	demand    DemandPort
	backlog   OutstandingPort
	events    notify.Publisher
	batchSize int
}

// NewScanner constructs a Scanner.
func NewScanner(logger *slog.Logger, demand DemandPort, backlog OutstandingPort, events notify.Publisher, batchSize int) *Scanner {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Scanner{logger: logger, demand: demand, backlog: backlog, events: events, batchSize: batchSize}
}

// HandleBackorderScan is the asynq handler for TaskBackorderScan.
func (s *Scanner) HandleBackorderScan(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	emitted, err := s.Run(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("back-order scan finished", slog.Int("alerts", emitted))
	return nil
}

// Run emits one alert per article with outstanding demand.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	articles, err := s.demand.ArticlesWithDemand(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	emitted := 0
	for _, articleID := range articles {
		total, count, err := s.backlog.OutstandingForArticle(ctx, articleID)
		if err != nil {
			s.logger.Warn("back-order scan query failed",
				slog.String("article_id", articleID.String()),
				slog.Any("error", err))
			continue
		}
		if count == 0 {
			continue
		}
		if err := s.events.PublishBackorderAlert(ctx, notify.BackorderAlert{
			ArticleID:        articleID,
			TotalOutstanding: total,
			PreOrderCount:    count,
			At:               now,
		}); err != nil {
			s.logger.Warn("back-order alert publish failed",
				slog.String("article_id", articleID.String()),
				slog.Any("error", err))
			continue
		}
		emitted++
	}
	return emitted, nil
}
