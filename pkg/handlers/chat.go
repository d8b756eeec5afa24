package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/services"
)

// ChatHandler handles the chat pipeline endpoint.
type ChatHandler struct {
	pipeline *services.Pipeline
	logger   *zap.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(pipeline *services.Pipeline, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers the chat handler's routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat/", h.Chat)
}

// Chat handles POST /api/v1/chat/ requests.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req services.ChatRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.pipeline.Chat(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, resp)
}
