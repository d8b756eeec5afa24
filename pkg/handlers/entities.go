package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

// EntityItem is one recognized entity in API responses.
type EntityItem struct {
	EntityID    int64            `json:"entity_id"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Source      string           `json:"source"`
	ExternalRef models.EntityRef `json:"external_ref"`
	CreatedAt   string           `json:"created_at"`
}

// EntitiesResponse is the GET /entities/ payload.
type EntitiesResponse struct {
	Entities []EntityItem `json:"entities"`
}

// EntitiesHandler handles the entity listing endpoint.
type EntitiesHandler struct {
	entities repositories.EntityRepository
	logger   *zap.Logger
}

// NewEntitiesHandler creates a new EntitiesHandler.
func NewEntitiesHandler(entities repositories.EntityRepository, logger *zap.Logger) *EntitiesHandler {
	return &EntitiesHandler{entities: entities, logger: logger}
}

// RegisterRoutes registers the entities handler's routes on the given mux.
func (h *EntitiesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/entities/", h.ListEntities)
}

// ListEntities handles GET /api/v1/entities/ requests. Query parameters:
// session_id (required), type, source, limit.
func (h *EntitiesHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}

	filter := repositories.EntityFilter{
		Type:   models.EntityType(r.URL.Query().Get("type")),
		Source: models.EntitySource(r.URL.Query().Get("source")),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			_ = ErrorResponse(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	entities, err := h.entities.ListBySession(r.Context(), sessionID, filter)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	resp := EntitiesResponse{Entities: make([]EntityItem, 0, len(entities))}
	for _, e := range entities {
		resp.Entities = append(resp.Entities, EntityItem{
			EntityID:    e.ID,
			Name:        e.Name,
			Type:        string(e.Type),
			Source:      string(e.Source),
			ExternalRef: e.Ref,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}

	_ = WriteJSON(w, http.StatusOK, resp)
}
