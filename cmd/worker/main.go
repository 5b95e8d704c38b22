package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/comptoir-erp/comptoir-erp/internal/app"
	"github.com/comptoir-erp/comptoir-erp/internal/backorder"
	"github.com/comptoir-erp/comptoir-erp/internal/invoicing"
	"github.com/comptoir-erp/comptoir-erp/internal/notify"
	"github.com/comptoir-erp/comptoir-erp/internal/observability"
	"github.com/comptoir-erp/comptoir-erp/internal/platform/db"
	"github.com/comptoir-erp/comptoir-erp/internal/purchasing"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
	"github.com/comptoir-erp/comptoir-erp/internal/sales"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
	"github.com/comptoir-erp/comptoir-erp/internal/stock"
	"github.com/comptoir-erp/comptoir-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "comptoir-worker")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	events := notify.NewRedisPublisher(redisClient)
	metrics := observability.NewMetrics()

	stockRepo := stock.NewRepository(pool)
	receivingRepo := receiving.NewRepository(pool)
	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, receivingRepo, events, auditLogger, metrics)

	salesRepo := sales.NewRepository(pool)
	backorderRepo := backorder.NewRepository(pool)
	backorderService := backorder.NewService(backorderRepo, salesRepo, auditLogger, cfg.TaxRateDecimal())
	invoicingRepo := invoicing.NewRepository(pool)
	invoicingService := invoicing.NewService(invoicingRepo, backorderRepo, idempotencyStore, auditLogger, metrics)

	receivingService := receiving.NewService(receivingRepo, stockRepo, backorderService, events, auditLogger, metrics)

	sweeper := jobs.NewSweeper(jobs.SweeperConfig{
		Logger:    logger,
		Orders:    purchasingRepo,
		Repairer:  purchasingService,
		Invoices:  invoicingRepo,
		Refresher: invoicingService,
		Notes:     receivingRepo,
		Stock:     receivingService,
		Keys:      idempotencyStore,
		Metrics:   metrics,
		BatchSize: cfg.SweepBatchSize,
	})
	scanner := jobs.NewScanner(logger, backorderRepo, backorderService, events, cfg.SweepBatchSize)

	sweepTask, err := jobs.NewReconcileSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewBackorderScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcileSweep, Handler: sweeper.HandleReconcileSweep},
			{Type: jobs.TaskBackorderScan, Handler: scanner.HandleBackorderScan},
		},
		Cron: []jobs.CronRegistration{
			{Spec: fmt.Sprintf("@every %s", cfg.SweepInterval), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/30 * * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
