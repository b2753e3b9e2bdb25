package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/casadex/casadex/internal/store"
)

// DocumentLister lists ingested documents. *store.Store satisfies it.
type DocumentLister interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
}

// DocumentsHandler serves GET /api/documents.
type DocumentsHandler struct {
	docs   DocumentLister
	logger *slog.Logger
}

// NewDocumentsHandler creates a DocumentsHandler.
func NewDocumentsHandler(docs DocumentLister, logger *slog.Logger) *DocumentsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentsHandler{docs: docs, logger: logger}
}

// RegisterRoutes registers the documents endpoint.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/documents", h.handleList)
}

// DocumentResponse is one entry of the documents listing.
type DocumentResponse struct {
	Identity   string    `json:"identity"`
	Title      string    `json:"title"`
	Kind       string    `json:"kind"`
	ChunkCount int       `json:"chunk_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h *DocumentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.ListDocuments(r.Context())
	if err != nil {
		h.logger.Error("listing documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list documents")
		return
	}

	out := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = DocumentResponse{
			Identity:   d.Identity,
			Title:      d.Title,
			Kind:       d.Kind,
			ChunkCount: d.ChunkCount,
			UpdatedAt:  d.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
