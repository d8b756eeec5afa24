package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/config"
)

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(cfg *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health-check/", h.HealthCheck)
}

// HealthCheck handles GET /api/v1/health-check/ requests.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: "memory-engine",
	})
}
