package handlers

import (
	"context"

	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
	"github.com/contexthq/memory-engine/pkg/services"
)

// Hand-rolled stubs for the service and repository interfaces the handlers
// depend on. Each returns canned data or a canned error.

type stubMemoryService struct {
	memories []*models.Memory
	listErr  error

	gotUserID string
	gotKind   models.MemoryKind
	gotLimit  int
}

var _ services.MemoryService = (*stubMemoryService)(nil)

func (s *stubMemoryService) Create(ctx context.Context, memory *models.Memory) (*models.Memory, bool, error) {
	return memory, true, nil
}

func (s *stubMemoryService) Retrieve(ctx context.Context, userID string, queryVec []float32, limit int) ([]*services.RankedMemory, error) {
	return nil, nil
}

func (s *stubMemoryService) List(ctx context.Context, userID string, kind models.MemoryKind, limit int) ([]*models.Memory, error) {
	s.gotUserID = userID
	s.gotKind = kind
	s.gotLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.memories, nil
}

func (s *stubMemoryService) MarkForDecay(ctx context.Context, memoryID int64) error {
	return nil
}

type stubConsolidationService struct {
	summary *models.MemorySummary
	err     error
}

var _ services.ConsolidationService = (*stubConsolidationService)(nil)

func (s *stubConsolidationService) ShouldConsolidate(ctx context.Context, userID, message string) (bool, error) {
	return false, nil
}

func (s *stubConsolidationService) Consolidate(ctx context.Context, userID string) (*models.MemorySummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.summary, nil
}

type stubSummaryRepository struct {
	summaries []*models.MemorySummary
}

var _ repositories.SummaryRepository = (*stubSummaryRepository)(nil)

func (s *stubSummaryRepository) Upsert(ctx context.Context, summary *models.MemorySummary) error {
	return nil
}

func (s *stubSummaryRepository) ListByUser(ctx context.Context, userID string) ([]*models.MemorySummary, error) {
	return s.summaries, nil
}

func (s *stubSummaryRepository) SearchSimilar(ctx context.Context, userID string, query []float32, limit int) ([]*repositories.SimilarSummary, error) {
	return nil, nil
}

type stubEntityRepository struct {
	entities []*models.Entity

	gotSessionID string
	gotFilter    repositories.EntityFilter
}

var _ repositories.EntityRepository = (*stubEntityRepository)(nil)

func (s *stubEntityRepository) Create(ctx context.Context, entity *models.Entity) error {
	return nil
}

func (s *stubEntityRepository) ListBySession(ctx context.Context, sessionID string, filter repositories.EntityFilter) ([]*models.Entity, error) {
	s.gotSessionID = sessionID
	s.gotFilter = filter
	return s.entities, nil
}

type stubExplainService struct {
	explanation *services.Explanation
	err         error

	gotSessionID string
	gotMemoryID  int64
}

var _ services.ExplainService = (*stubExplainService)(nil)

func (s *stubExplainService) Explain(ctx context.Context, sessionID string, memoryID int64) (*services.Explanation, error) {
	s.gotSessionID = sessionID
	s.gotMemoryID = memoryID
	if s.err != nil {
		return nil, s.err
	}
	return s.explanation, nil
}
