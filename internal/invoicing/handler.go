package invoicing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Handler exposes invoicing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	repo     *Repository
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, repo *Repository) *Handler {
	return &Handler{logger: logger, service: service, repo: repo, validate: validator.New()}
}

// MountRoutes registers invoicing routes. The pre-order payment route lives
// here because payment recording is one engine regardless of target.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("invoicing.view"))
		r.Get("/invoices/{id}", h.getInvoice)
	})
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("invoicing.pay"))
		r.Post("/invoices/{id}/payments", h.payInvoice)
		r.Post("/pre-orders/{id}/payments", h.payPreOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("invoicing.deliver"))
		r.Put("/invoices/{id}/delivered", h.updateDelivered)
	})
}

type paymentPayload struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Method string          `json:"method" validate:"required,max=64"`
}

type paymentResponse struct {
	PaymentStatus string `json:"payment_status"`
}

func (h *Handler) payInvoice(w http.ResponseWriter, r *http.Request) {
	h.recordPayment(w, r, func(id uuid.UUID, p paymentPayload) PaymentRequest {
		return PaymentRequest{InvoiceID: &id, Amount: p.Amount, Method: p.Method}
	})
}

func (h *Handler) payPreOrder(w http.ResponseWriter, r *http.Request) {
	h.recordPayment(w, r, func(id uuid.UUID, p paymentPayload) PaymentRequest {
		return PaymentRequest{PreOrderID: &id, Amount: p.Amount, Method: p.Method}
	})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request, build func(uuid.UUID, paymentPayload) PaymentRequest) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var payload paymentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if payload.Method == "" {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "method is required")
		return
	}

	req := build(id, payload)
	req.Key = r.Header.Get("Idempotency-Key")
	status, err := h.service.RecordPayment(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrNegativeAmount), errors.Is(err, ErrInvalidTarget):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		default:
			h.logger.Error("record payment", slog.Any("error", err), slog.String("id", id.String()))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, paymentResponse{PaymentStatus: string(status)})
}

type deliveredPayload struct {
	Lines map[uuid.UUID]float64 `json:"lines" validate:"required,min=1"`
}

type deliveredResponse struct {
	DeliveryStatus string `json:"delivery_status"`
}

func (h *Handler) updateDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var payload deliveredPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	status, err := h.service.UpdateDeliveredQuantities(r.Context(), id, payload.Lines)
	if err != nil {
		var overDelivery *OverDeliveryError
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.As(err, &overDelivery),
			errors.Is(err, ErrUnknownArticle),
			errors.Is(err, ErrNegativeQuantity):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		default:
			h.logger.Error("update delivered quantities", slog.Any("error", err), slog.String("id", id.String()))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, deliveredResponse{DeliveryStatus: string(status)})
}

type invoiceResponse struct {
	ID             uuid.UUID             `json:"id"`
	Number         string                `json:"number"`
	ClientID       uuid.UUID             `json:"client_id"`
	AmountTTC      string                `json:"amount_ttc"`
	PaymentStatus  string                `json:"payment_status"`
	DeliveryStatus string                `json:"delivery_status"`
	Lines          []invoiceLineResponse `json:"lines"`
}

type invoiceLineResponse struct {
	ArticleID         uuid.UUID `json:"article_id"`
	QuantityOrdered   float64   `json:"quantity_ordered"`
	QuantityDelivered float64   `json:"quantity_delivered"`
	Status            string    `json:"status"`
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	invoice, err := h.repo.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get invoice", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.repo.GetInvoiceLines(r.Context(), id)
	if err != nil {
		h.logger.Error("get invoice lines", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}

	resp := invoiceResponse{
		ID:             invoice.ID,
		Number:         invoice.Number,
		ClientID:       invoice.ClientID,
		AmountTTC:      invoice.AmountTTC.String(),
		PaymentStatus:  string(invoice.PaymentStatus),
		DeliveryStatus: string(invoice.DeliveryStatus),
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, invoiceLineResponse{
			ArticleID:         l.ArticleID,
			QuantityOrdered:   l.QuantityOrdered,
			QuantityDelivered: l.QuantityDelivered,
			Status:            string(l.Status),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}
