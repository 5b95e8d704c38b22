package receiving

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// Handler exposes receiving endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	repo     *Repository
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, repo *Repository) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		repo:     repo,
		validate: validator.New(),
	}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("receiving.view"))
		r.Get("/delivery-notes/{id}", h.getNote)
	})
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("receiving.receive"))
		r.Post("/delivery-notes/{id}/receive", h.receive)
	})
}

type receiveLinePayload struct {
	ArticleID        uuid.UUID `json:"article_id" validate:"required"`
	QuantityReceived float64   `json:"quantity_received" validate:"gte=0"`
}

type receivePayload struct {
	Destination   string               `json:"destination" validate:"required"`
	DestinationID uuid.UUID            `json:"destination_id" validate:"required"`
	Lines         []receiveLinePayload `json:"lines" validate:"required,min=1,dive"`
}

type lineResultResponse struct {
	ArticleID        uuid.UUID `json:"article_id"`
	QuantityReceived float64   `json:"quantity_received"`
	Status           string    `json:"status"`
	StockApplied     bool      `json:"stock_applied"`
	Error            string    `json:"error,omitempty"`
}

type receiptResponse struct {
	NoteID     uuid.UUID            `json:"note_id"`
	Number     string               `json:"number"`
	Status     string               `json:"status"`
	ReceivedAt string               `json:"received_at"`
	Lines      []lineResultResponse `json:"lines"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid note id")
		return
	}

	var payload receivePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	req := ReceiveRequest{
		NoteID:        id,
		Destination:   Destination(payload.Destination),
		DestinationID: payload.DestinationID,
	}
	for _, l := range payload.Lines {
		req.Lines = append(req.Lines, ReceiptLine{ArticleID: l.ArticleID, QuantityReceived: l.QuantityReceived})
	}

	receipt, err := h.service.Receive(r.Context(), req)
	if err != nil {
		var overReceipt *OverReceiptError
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrAlreadyReceived):
			httpx.Problem(w, http.StatusConflict, "Already Received", err.Error())
		case errors.As(err, &overReceipt),
			errors.Is(err, ErrInvalidDestination),
			errors.Is(err, ErrUnknownArticle),
			errors.Is(err, ErrNegativeQuantity):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		default:
			h.logger.Error("receive delivery", slog.Any("error", err), slog.String("id", id.String()))
			httpx.RespondError(w, err)
		}
		return
	}

	resp := receiptResponse{
		NoteID: receipt.Note.ID,
		Number: receipt.Note.Number,
		Status: string(receipt.Note.Status),
	}
	if receipt.Note.ReceivedAt != nil {
		resp.ReceivedAt = receipt.Note.ReceivedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	for _, res := range receipt.Results {
		line := lineResultResponse{
			ArticleID:        res.ArticleID,
			QuantityReceived: res.QuantityReceived,
			Status:           string(res.Status),
			StockApplied:     res.StockApplied,
		}
		if res.Err != nil {
			line.Error = res.Err.Error()
		}
		resp.Lines = append(resp.Lines, line)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type noteDetailResponse struct {
	ID              uuid.UUID          `json:"id"`
	Number          string             `json:"number"`
	PurchaseOrderID uuid.UUID          `json:"purchase_order_id"`
	Status          string             `json:"status"`
	Destination     string             `json:"destination,omitempty"`
	Lines           []noteLineResponse `json:"lines"`
}

type noteLineResponse struct {
	ArticleID        uuid.UUID `json:"article_id"`
	QuantityOrdered  float64   `json:"quantity_ordered"`
	QuantityReceived float64   `json:"quantity_received"`
	UnitPrice        string    `json:"unit_price"`
}

func (h *Handler) getNote(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid note id")
		return
	}

	note, err := h.repo.GetNote(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get delivery note", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.repo.GetNoteLines(r.Context(), id)
	if err != nil {
		h.logger.Error("get delivery note lines", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}

	resp := noteDetailResponse{
		ID:              note.ID,
		Number:          note.Number,
		PurchaseOrderID: note.PurchaseOrderID,
		Status:          string(note.Status),
		Destination:     string(note.DestinationKind),
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, noteLineResponse{
			ArticleID:        l.ArticleID,
			QuantityOrdered:  l.QuantityOrdered,
			QuantityReceived: l.QuantityReceived,
			UnitPrice:        l.UnitPrice.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}
