package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

// AliasMatch is a resolved user-scoped alias.
type AliasMatch struct {
	EntityName string
	EntityID   string
	Confidence string // always "exact" for alias hits
}

// AliasService persists user-scoped exact-text -> entity mappings and
// multilingual translations. Both live in app.memories as semantic rows
// keyed through external_ref, so they ride the same store, retrieval, and
// retention machinery as every other memory.
type AliasService interface {
	StoreAlias(ctx context.Context, userID, sessionID, aliasText, entityName, entityID string) error
	ExactMatch(ctx context.Context, userID, text string) (*AliasMatch, error)
	StoreMultilingual(ctx context.Context, userID, sessionID, foreignText, englishText string) error
	Translate(ctx context.Context, userID, text string) (string, error)
}

type aliasService struct {
	memories  repositories.MemoryRepository
	embedding EmbeddingService
	logger    *zap.Logger
}

// NewAliasService creates a new AliasService.
func NewAliasService(memories repositories.MemoryRepository, embedding EmbeddingService, logger *zap.Logger) AliasService {
	return &aliasService{
		memories:  memories,
		embedding: embedding,
		logger:    logger.Named("alias"),
	}
}

var _ AliasService = (*aliasService)(nil)

const (
	aliasImportance        = 0.8
	multilingualImportance = 0.7
)

func (s *aliasService) StoreAlias(ctx context.Context, userID, sessionID, aliasText, entityName, entityID string) error {
	aliasText = strings.TrimSpace(aliasText)
	if aliasText == "" || entityName == "" {
		return apperrors.Validation("alias text and entity name are required")
	}

	// One row per (user, lowercase alias): a re-pointing alias replaces the
	// resolution because FindAliasMapping returns the newest row.
	embedding, _ := s.embedding.EmbedText(ctx, aliasText+" "+entityName)

	memory := &models.Memory{
		SessionID:  sessionID,
		UserID:     userID,
		Kind:       models.MemorySemantic,
		Text:       fmt.Sprintf("Alias mapping: '%s' refers to '%s' (ID: %s)", aliasText, entityName, entityID),
		Embedding:  embedding,
		Importance: aliasImportance,
		Ref: &models.MemoryRef{
			Type:       models.RefTypeAliasMapping,
			AliasText:  strings.ToLower(aliasText),
			EntityName: entityName,
			EntityID:   entityID,
			UserID:     userID,
		},
	}

	if err := s.memories.Create(ctx, memory); err != nil {
		return apperrors.Repository(err)
	}

	s.logger.Debug("stored alias",
		zap.String("user_id", userID),
		zap.String("alias", strings.ToLower(aliasText)),
		zap.String("entity", entityName))
	return nil
}

func (s *aliasService) ExactMatch(ctx context.Context, userID, text string) (*AliasMatch, error) {
	memory, err := s.memories.FindAliasMapping(ctx, userID, strings.ToLower(strings.TrimSpace(text)))
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if memory == nil || memory.Ref == nil {
		return nil, nil
	}

	return &AliasMatch{
		EntityName: memory.Ref.EntityName,
		EntityID:   memory.Ref.EntityID,
		Confidence: "exact",
	}, nil
}

func (s *aliasService) StoreMultilingual(ctx context.Context, userID, sessionID, foreignText, englishText string) error {
	foreignText = strings.TrimSpace(foreignText)
	englishText = strings.TrimSpace(englishText)
	if foreignText == "" || englishText == "" {
		return apperrors.Validation("foreign and english text are required")
	}

	embedding, _ := s.embedding.EmbedText(ctx, foreignText+" "+englishText)

	memory := &models.Memory{
		SessionID:  sessionID,
		UserID:     userID,
		Kind:       models.MemorySemantic,
		Text:       fmt.Sprintf("Multilingual mapping: '%s' means '%s'", foreignText, englishText),
		Embedding:  embedding,
		Importance: multilingualImportance,
		Ref: &models.MemoryRef{
			Type:        models.RefTypeMultilingualMapping,
			ForeignText: strings.ToLower(foreignText),
			EnglishText: englishText,
			UserID:      userID,
		},
	}

	if err := s.memories.Create(ctx, memory); err != nil {
		return apperrors.Repository(err)
	}

	return nil
}

func (s *aliasService) Translate(ctx context.Context, userID, text string) (string, error) {
	memory, err := s.memories.FindMultilingualMapping(ctx, userID, strings.ToLower(strings.TrimSpace(text)))
	if err != nil {
		return text, apperrors.Repository(err)
	}
	if memory == nil || memory.Ref == nil || memory.Ref.EnglishText == "" {
		return text, nil
	}

	return memory.Ref.EnglishText, nil
}
