package backorder

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

// Handler exposes pre-order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers pre-order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("backorder.view"))
		r.Get("/pre-orders/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("backorder.manage"))
		r.Put("/pre-orders/{id}/status", h.setStatus)
		r.Put("/pre-orders/{id}/lines", h.replaceLines)
		r.Post("/pre-orders/{id}/convert", h.convert)
	})
}

type preOrderResponse struct {
	ID            uuid.UUID              `json:"id"`
	Number        string                 `json:"number"`
	ClientID      uuid.UUID              `json:"client_id"`
	Status        string                 `json:"status"`
	DepositPaid   string                 `json:"deposit_paid"`
	PaymentStatus string                 `json:"payment_status"`
	NetAmount     string                 `json:"net_amount"`
	AmountTTC     string                 `json:"amount_ttc"`
	Lines         []preOrderLineResponse `json:"lines"`
}

type preOrderLineResponse struct {
	ArticleID         uuid.UUID `json:"article_id"`
	QuantityOrdered   float64   `json:"quantity_ordered"`
	QuantityDelivered float64   `json:"quantity_delivered"`
	UnitPrice         string    `json:"unit_price"`
	LineAmount        string    `json:"line_amount"`
	Status            string    `json:"status"`
}

func toPreOrderResponse(order PreOrder, lines []PreOrderLine) preOrderResponse {
	resp := preOrderResponse{
		ID:            order.ID,
		Number:        order.Number,
		ClientID:      order.ClientID,
		Status:        string(order.Status),
		DepositPaid:   order.DepositPaid.String(),
		PaymentStatus: order.PaymentStatus,
		NetAmount:     order.NetAmount.String(),
		AmountTTC:     order.AmountTTC.String(),
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, preOrderLineResponse{
			ArticleID:         l.ArticleID,
			QuantityOrdered:   l.QuantityOrdered,
			QuantityDelivered: l.QuantityDelivered,
			UnitPrice:         l.UnitPrice.String(),
			LineAmount:        l.LineAmount.String(),
			Status:            string(l.Status),
		})
	}
	return resp
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid pre-order id")
		return
	}
	order, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get pre-order", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPreOrderResponse(order, lines))
}

type statusPayload struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid pre-order id")
		return
	}
	var payload statusPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	if err := h.service.SetStatus(r.Context(), id, Status(payload.Status)); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrInvalidStatus):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		case errors.Is(err, ErrTerminal):
			httpx.Problem(w, http.StatusConflict, "Terminal State", err.Error())
		default:
			h.logger.Error("set pre-order status", slog.Any("error", err), slog.String("id", id.String()))
			httpx.RespondError(w, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replaceLinePayload struct {
	ArticleID         uuid.UUID       `json:"article_id" validate:"required"`
	QuantityOrdered   float64         `json:"quantity_ordered" validate:"gte=0"`
	QuantityDelivered float64         `json:"quantity_delivered" validate:"gte=0"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

type replaceLinesPayload struct {
	Lines []replaceLinePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid pre-order id")
		return
	}
	var payload replaceLinesPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	inputs := make([]LineInput, len(payload.Lines))
	for i, l := range payload.Lines {
		inputs[i] = LineInput{
			ArticleID:         l.ArticleID,
			QuantityOrdered:   l.QuantityOrdered,
			QuantityDelivered: l.QuantityDelivered,
			UnitPrice:         l.UnitPrice,
		}
	}

	order, err := h.service.ReplaceLines(r.Context(), id, inputs)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrTerminal):
			httpx.Problem(w, http.StatusConflict, "Terminal State", err.Error())
		case errors.Is(err, ErrEmptyLines), errors.Is(err, ErrLineQuantities):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		default:
			h.logger.Error("replace pre-order lines", slog.Any("error", err), slog.String("id", id.String()))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, toPreOrderResponse(order, nil))
}

type convertResponse struct {
	SaleOrderID uuid.UUID `json:"sale_order_id"`
	Number      string    `json:"number"`
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid pre-order id")
		return
	}

	sale, err := h.service.ConvertToSale(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrAlreadyConverted):
			httpx.Problem(w, http.StatusConflict, "Already Converted", err.Error())
		case errors.Is(err, ErrNotConvertible):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		default:
			h.logger.Error("convert pre-order", slog.Any("error", err), slog.String("id", id.String()))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, convertResponse{SaleOrderID: sale.ID, Number: sale.Number})
}
