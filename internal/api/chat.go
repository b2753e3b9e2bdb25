package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/casadex/casadex/internal/ai"
)

// Asker answers one user query within a session. *answer.Service
// satisfies it.
type Asker interface {
	Ask(ctx context.Context, sessionID, query string) (string, error)
}

// ChatHandler serves POST /api/chat.
type ChatHandler struct {
	asker  Asker
	logger *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(asker Asker, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{asker: asker, logger: logger}
}

// RegisterRoutes registers the chat endpoint.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

// ChatRequest is the request body of POST /api/chat. SessionID is
// optional; omitting it starts a fresh conversation.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the response body of POST /api/chat.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	reply, err := h.asker.Ask(r.Context(), req.SessionID, req.Message)
	if err != nil {
		h.logger.Error("chat failed", "session", req.SessionID, "error", err)
		switch {
		case errors.Is(err, ai.ErrMalformedInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "the message could not be processed")
		case errors.Is(err, context.Canceled):
			// Client went away; nothing useful to write.
		default:
			writeError(w, http.StatusBadGateway, "upstream_error", "the assistant could not produce an answer")
		}
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{SessionID: req.SessionID, Reply: reply})
}
