package purchasing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Handler exposes purchasing endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("purchasing.view"))
		r.Get("/purchase-orders/{id}/landed-costs", h.landedCosts)
	})
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("purchasing.approve"))
		r.Post("/purchase-orders/{id}/approve", h.approve)
	})
}

type noteResponse struct {
	ID              uuid.UUID `json:"id"`
	Number          string    `json:"number"`
	PurchaseOrderID uuid.UUID `json:"purchase_order_id"`
	Status          string    `json:"status"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	note, err := h.service.Approve(r.Context(), id)
	if err != nil {
		var unverified *UnverifiedError
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrAlreadyApproved):
			httpx.Problem(w, http.StatusConflict, "Already Approved", err.Error())
		case errors.Is(err, ErrEmptyOrder), errors.Is(err, ErrAmountMismatch):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		case errors.As(err, &unverified):
			// The approval committed; the caller repairs instead of retrying.
			httpx.Problem(w, http.StatusInternalServerError, "Committed But Unverified", err.Error())
		default:
			h.logger.Error("approve purchase order", slog.Any("error", err), slog.String("id", id.String()))
			httpx.RespondError(w, err)
		}
		return
	}

	httpx.JSON(w, http.StatusOK, noteResponse{
		ID:              note.ID,
		Number:          note.Number,
		PurchaseOrderID: note.PurchaseOrderID,
		Status:          string(note.Status),
	})
}

type lineCostResponse struct {
	ArticleID      uuid.UUID `json:"article_id"`
	Quantity       float64   `json:"quantity"`
	UnitPrice      string    `json:"unit_price"`
	AllocatedFee   string    `json:"allocated_fee"`
	LandedUnitCost string    `json:"landed_unit_cost"`
}

func (h *Handler) landedCosts(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	costs, err := h.service.LandedCosts(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("landed costs", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}

	out := make([]lineCostResponse, len(costs))
	for i, c := range costs {
		out[i] = lineCostResponse{
			ArticleID:      c.Line.ArticleID,
			Quantity:       c.Line.QuantityOrdered,
			UnitPrice:      c.Line.UnitPrice.String(),
			AllocatedFee:   c.AllocatedFee.String(),
			LandedUnitCost: c.LandedUnitCost.String(),
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}
