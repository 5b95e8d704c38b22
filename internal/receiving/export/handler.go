package export

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/comptoir-erp/comptoir-erp/internal/catalog"
	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// CatalogPort resolves article names for the export.
type CatalogPort interface {
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Article, error)
}

// Handler serves delivery-note exports.
type Handler struct {
	logger  *slog.Logger
	repo    *receiving.Repository
	catalog CatalogPort
	writer  *Writer
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, repo *receiving.Repository, articles CatalogPort) *Handler {
	return &Handler{logger: logger, repo: repo, catalog: articles, writer: NewWriter()}
}

// MountRoutes registers the export route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireCapability("receiving.view"))
		r.Get("/delivery-notes/{id}/export", h.export)
	})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid note id")
		return
	}

	note, err := h.repo.GetNote(r.Context(), id)
	if err != nil {
		if errors.Is(err, receiving.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("export delivery note", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.repo.GetNoteLines(r.Context(), id)
	if err != nil {
		h.logger.Error("export delivery note lines", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}

	out, err := h.writer.Summary(note, lines, h.articleNames(r.Context(), lines))
	if err != nil {
		h.logger.Error("render delivery note export", slog.Any("error", err), slog.String("id", id.String()))
		httpx.RespondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+note.Number+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// articleNames resolves line articles to catalog names. Resolution failures
// degrade to raw ids rather than failing the export.
func (h *Handler) articleNames(ctx context.Context, lines []receiving.DeliveryNoteLine) map[uuid.UUID]string {
	if h.catalog == nil || len(lines) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ArticleID)
	}
	articles, err := h.catalog.GetMany(ctx, ids)
	if err != nil {
		h.logger.Warn("resolve article names", slog.Any("error", err))
		return nil
	}
	names := make(map[uuid.UUID]string, len(articles))
	for id, a := range articles {
		names[id] = a.Name
	}
	return names
}
