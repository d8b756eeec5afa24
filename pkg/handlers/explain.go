package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/services"
)

// ExplainHandler handles the provenance explanation endpoint.
type ExplainHandler struct {
	explain services.ExplainService
	logger  *zap.Logger
}

// NewExplainHandler creates a new ExplainHandler.
func NewExplainHandler(explain services.ExplainService, logger *zap.Logger) *ExplainHandler {
	return &ExplainHandler{explain: explain, logger: logger}
}

// RegisterRoutes registers the explain handler's routes on the given mux.
func (h *ExplainHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/explain/", h.Explain)
}

// Explain handles GET /api/v1/explain/ requests. Query parameters:
// session_id (required), memory_id (optional, narrows to one memory).
func (h *ExplainHandler) Explain(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}

	var memoryID int64
	if raw := r.URL.Query().Get("memory_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			_ = ErrorResponse(w, http.StatusUnprocessableEntity, "memory_id must be a positive integer")
			return
		}
		memoryID = parsed
	}

	explanation, err := h.explain.Explain(r.Context(), sessionID, memoryID)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, explanation)
}
