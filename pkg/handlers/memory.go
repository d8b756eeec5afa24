package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
	"github.com/contexthq/memory-engine/pkg/services"
)

// importanceOverfetch widens the listing query when an importance threshold
// is set, so the post-query filter can still fill the requested page.
const importanceOverfetch = 10

// MemoryItem is one memory row in API responses.
type MemoryItem struct {
	MemoryID   int64   `json:"memory_id"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
	CreatedAt  string  `json:"created_at"`
}

// SummaryItem is one consolidated summary row in API responses.
type SummaryItem struct {
	SummaryID     int64  `json:"summary_id"`
	SessionWindow int    `json:"session_window"`
	Summary       string `json:"summary"`
	CreatedAt     string `json:"created_at"`
}

// MemoriesResponse is the GET /memory/ payload.
type MemoriesResponse struct {
	Memories  []MemoryItem  `json:"memories"`
	Summaries []SummaryItem `json:"summaries"`
}

// ConsolidateRequest is the POST /consolidate/ payload.
type ConsolidateRequest struct {
	UserID string `json:"user_id"`
}

// ConsolidateResponse reports the upserted summary.
type ConsolidateResponse struct {
	SummaryID int64  `json:"summary_id"`
	Message   string `json:"message"`
}

// MemoryHandler handles memory listing and consolidation endpoints.
type MemoryHandler struct {
	memoryService services.MemoryService
	consolidation services.ConsolidationService
	summaries     repositories.SummaryRepository
	logger        *zap.Logger
}

// NewMemoryHandler creates a new MemoryHandler.
func NewMemoryHandler(memoryService services.MemoryService, consolidation services.ConsolidationService, summaries repositories.SummaryRepository, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{
		memoryService: memoryService,
		consolidation: consolidation,
		summaries:     summaries,
		logger:        logger,
	}
}

// RegisterRoutes registers the memory handler's routes on the given mux.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/memory/", h.GetMemories)
	mux.HandleFunc("POST /api/v1/consolidate/", h.Consolidate)
}

// GetMemories handles GET /api/v1/memory/ requests. Query parameters:
// user_id (required), k (limit, default 10), kind, threshold (minimum
// importance).
func (h *MemoryHandler) GetMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}

	limit := 10
	if k := r.URL.Query().Get("k"); k != "" {
		parsed, err := strconv.Atoi(k)
		if err != nil || parsed <= 0 {
			_ = ErrorResponse(w, http.StatusUnprocessableEntity, "k must be a positive integer")
			return
		}
		limit = parsed
	}

	threshold := 0.0
	if t := r.URL.Query().Get("threshold"); t != "" {
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			_ = ErrorResponse(w, http.StatusUnprocessableEntity, "threshold must be between 0 and 1")
			return
		}
		threshold = parsed
	}

	kind := models.MemoryKind(r.URL.Query().Get("kind"))

	// Importance filtering happens after the query; over-fetch so enough
	// qualifying rows survive the cut when a threshold is set.
	fetchLimit := limit
	if threshold > 0 {
		fetchLimit = limit * importanceOverfetch
	}

	memories, err := h.memoryService.List(r.Context(), userID, kind, fetchLimit)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	summaries, err := h.summaries.ListByUser(r.Context(), userID)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	resp := MemoriesResponse{
		Memories:  make([]MemoryItem, 0, len(memories)),
		Summaries: make([]SummaryItem, 0, len(summaries)),
	}
	for _, m := range memories {
		if m.Importance < threshold {
			continue
		}
		if len(resp.Memories) == limit {
			break
		}
		resp.Memories = append(resp.Memories, MemoryItem{
			MemoryID:   m.ID,
			Kind:       string(m.Kind),
			Text:       m.Text,
			Importance: m.Importance,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		})
	}
	for _, s := range summaries {
		resp.Summaries = append(resp.Summaries, SummaryItem{
			SummaryID:     s.ID,
			SessionWindow: s.SessionWindow,
			Summary:       s.Summary,
			CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		})
	}

	_ = WriteJSON(w, http.StatusOK, resp)
}

// Consolidate handles POST /api/v1/consolidate/ requests.
func (h *MemoryHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req ConsolidateRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}

	summary, err := h.consolidation.Consolidate(r.Context(), req.UserID)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ConsolidateResponse{
		SummaryID: summary.ID,
		Message:   fmt.Sprintf("Successfully consolidated memories for user %s", req.UserID),
	})
}
