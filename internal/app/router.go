package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir-erp/internal/backorder"
	"github.com/comptoir-erp/comptoir-erp/internal/invoicing"
	"github.com/comptoir-erp/comptoir-erp/internal/observability"
	"github.com/comptoir-erp/comptoir-erp/internal/purchasing"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving/export"
	"github.com/comptoir-erp/comptoir-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Pool              *pgxpool.Pool
	PurchasingHandler *purchasing.Handler
	ReceivingHandler  *receiving.Handler
	ExportHandler     *export.Handler
	InvoicingHandler  *invoicing.Handler
	BackorderHandler  *backorder.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		params.PurchasingHandler.MountRoutes(api)
		params.ReceivingHandler.MountRoutes(api)
		params.ExportHandler.MountRoutes(api)
		params.InvoicingHandler.MountRoutes(api)
		params.BackorderHandler.MountRoutes(api)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
