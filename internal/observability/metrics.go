// Package observability exposes the Prometheus registry, the HTTP metrics
// middleware and the business counters the domain services report into.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and every collector of the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	approvals    *prometheus.CounterVec
	receipts     *prometheus.CounterVec
	payments     *prometheus.CounterVec
	sweepRepairs prometheus.Counter
}

// NewMetrics initialises the registry with the HTTP and business collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comptoir_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "comptoir_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	approvals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comptoir_po_approvals_total",
		Help: "Purchase-order approvals by outcome.",
	}, []string{"outcome"})
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comptoir_delivery_receipts_total",
		Help: "Processed delivery receipts by outcome.",
	}, []string{"outcome"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comptoir_payments_recorded_total",
		Help: "Recorded payments by target document kind.",
	}, []string{"target"})
	sweepRepairs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comptoir_sweep_repairs_total",
		Help: "Partially-applied approvals repaired by the reconciliation sweep.",
	})
	registry.MustRegister(requests, duration, approvals, receipts, payments, sweepRepairs)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		approvals:       approvals,
		receipts:        receipts,
		payments:        payments,
		sweepRepairs:    sweepRepairs,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ApprovalRecorded counts one approval outcome: success, failure or
// unverified.
func (m *Metrics) ApprovalRecorded(outcome string) {
	if m != nil {
		m.approvals.WithLabelValues(outcome).Inc()
	}
}

// ReceiptRecorded counts one processed receipt outcome.
func (m *Metrics) ReceiptRecorded(outcome string) {
	if m != nil {
		m.receipts.WithLabelValues(outcome).Inc()
	}
}

// PaymentRecorded counts one recorded payment by target kind.
func (m *Metrics) PaymentRecorded(target string) {
	if m != nil {
		m.payments.WithLabelValues(target).Inc()
	}
}

// SweepRepaired counts one repaired approval.
func (m *Metrics) SweepRepaired() {
	if m != nil {
		m.sweepRepairs.Inc()
	}
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
