package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/comptoir-erp/comptoir-erp/internal/app"
	"github.com/comptoir-erp/comptoir-erp/internal/backorder"
	"github.com/comptoir-erp/comptoir-erp/internal/catalog"
	"github.com/comptoir-erp/comptoir-erp/internal/invoicing"
	"github.com/comptoir-erp/comptoir-erp/internal/notify"
	"github.com/comptoir-erp/comptoir-erp/internal/observability"
	"github.com/comptoir-erp/comptoir-erp/internal/platform/cache"
	"github.com/comptoir-erp/comptoir-erp/internal/platform/db"
	"github.com/comptoir-erp/comptoir-erp/internal/purchasing"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving/export"
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

	logger := app.NewLogger(cfg, "comptoir-api")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	events := notify.NewRedisPublisher(redisClient)
	metrics := observability.NewMetrics()

	stockRepo := stock.NewRepository(pool)
	salesRepo := sales.NewRepository(pool)

	backorderRepo := backorder.NewRepository(pool)
	backorderService := backorder.NewService(backorderRepo, salesRepo, auditLogger, cfg.TaxRateDecimal())

	receivingRepo := receiving.NewRepository(pool)
	receivingService := receiving.NewService(receivingRepo, stockRepo, backorderService, events, auditLogger, metrics)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, receivingRepo, events, auditLogger, metrics)

	invoicingRepo := invoicing.NewRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	invoicingService := invoicing.NewService(invoicingRepo, backorderRepo, idempotencyStore, auditLogger, metrics)

	purchasingHandler := purchasing.NewHandler(logger, purchasingService)
	receivingHandler := receiving.NewHandler(logger, receivingService, receivingRepo)
	catalogRepo := catalog.NewRepository(pool)
	exportHandler := export.NewHandler(logger, receivingRepo, catalogRepo)
	invoicingHandler := invoicing.NewHandler(logger, invoicingService, invoicingRepo)
	backorderHandler := backorder.NewHandler(logger, backorderService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              pool,
		PurchasingHandler: purchasingHandler,
		ReceivingHandler:  receivingHandler,
		ExportHandler:     exportHandler,
		InvoicingHandler:  invoicingHandler,
		BackorderHandler:  backorderHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
