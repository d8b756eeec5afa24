package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

// MemorySource describes one memory that contributed to a session.
type MemorySource struct {
	MemoryID   int64   `json:"memory_id"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
	CreatedAt  string  `json:"created_at"`
}

// DomainSource describes one database record linked through an entity.
type DomainSource struct {
	EntityName string `json:"entity_name"`
	EntityType string `json:"entity_type"`
	Table      string `json:"table"`
	ID         string `json:"id"`
	Source     string `json:"source"`
}

// Explanation traces a session's replies back to their sources.
type Explanation struct {
	Explanation   string         `json:"explanation"`
	MemorySources []MemorySource `json:"memory_sources"`
	DomainSources []DomainSource `json:"domain_sources"`
}

// ExplainService reports which memories and database records fed a session.
type ExplainService interface {
	// Explain summarizes the session's sources. A non-zero memoryID narrows
	// the memory sources to that row.
	Explain(ctx context.Context, sessionID string, memoryID int64) (*Explanation, error)
}

type explainService struct {
	memories repositories.MemoryRepository
	entities repositories.EntityRepository
	logger   *zap.Logger
}

// NewExplainService creates a new ExplainService.
func NewExplainService(memories repositories.MemoryRepository, entities repositories.EntityRepository, logger *zap.Logger) ExplainService {
	return &explainService{
		memories: memories,
		entities: entities,
		logger:   logger.Named("explain"),
	}
}

var _ ExplainService = (*explainService)(nil)

func (s *explainService) Explain(ctx context.Context, sessionID string, memoryID int64) (*Explanation, error) {
	memories, err := s.memories.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if memoryID != 0 {
		filtered := make([]*models.Memory, 0, 1)
		for _, m := range memories {
			if m.ID == memoryID {
				filtered = append(filtered, m)
			}
		}
		memories = filtered
	}

	entities, err := s.entities.ListBySession(ctx, sessionID, repositories.EntityFilter{})
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	memorySources := make([]MemorySource, 0, len(memories))
	kindCounts := make(map[models.MemoryKind]int)
	for _, m := range memories {
		kindCounts[m.Kind]++
		memorySources = append(memorySources, MemorySource{
			MemoryID:   m.ID,
			Kind:       string(m.Kind),
			Text:       m.Text,
			Importance: m.Importance,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		})
	}

	domainSources := make([]DomainSource, 0, len(entities))
	for _, e := range entities {
		if e.Ref.Table == "" {
			continue
		}
		domainSources = append(domainSources, DomainSource{
			EntityName: e.Name,
			EntityType: string(e.Type),
			Table:      e.Ref.Table,
			ID:         e.Ref.ID,
			Source:     string(e.Source),
		})
	}

	explanation := fmt.Sprintf(
		"This response was generated using:\n"+
			"- %d memory sources from the knowledge base\n"+
			"- %d domain entities linked to database records\n"+
			"- Session ID: %s\n\n"+
			"Memory sources include %d semantic memories, %d episodic memories, and %d profile memories.",
		len(memorySources), len(domainSources), sessionID,
		kindCounts[models.MemorySemantic], kindCounts[models.MemoryEpisodic], kindCounts[models.MemoryProfile],
	)

	return &Explanation{
		Explanation:   explanation,
		MemorySources: memorySources,
		DomainSources: domainSources,
	}, nil
}
