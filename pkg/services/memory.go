package services

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
	"github.com/contexthq/memory-engine/pkg/retry"
)

const (
	// semanticDedupJaccard is the word-set overlap above which two semantic
	// memories are the same fact.
	semanticDedupJaccard = 0.8
	// containmentMinLength gates substring dedup to texts long enough that
	// containment is meaningful.
	containmentMinLength = 20

	// stalePreferenceDays is the age past which a preference gets flagged.
	stalePreferenceDays = 90

	// decayedImportance is assigned when a memory is contradicted by the
	// database and marked for decay.
	decayedImportance = 0.1

	// retrievalOverfetch widens the ANN candidate set before re-ranking by
	// importance and recency.
	retrievalOverfetch = 4
)

// daysAgoPattern finds self-referenced ages like "120 days ago" inside
// memory text.
var daysAgoPattern = regexp.MustCompile(`(\d+)\s+days?\s+ago`)

// RankedMemory is one retrieval hit with its composite score.
type RankedMemory struct {
	Memory *models.Memory
	// Similarity is raw cosine similarity to the query vector.
	Similarity float64
	// Score is similarity x importance x recency weight.
	Score float64
	// AnnotatedText is the memory text with bracketed status notes appended.
	AnnotatedText string
}

// MemoryService owns memory persistence policy: dedup on write, composite
// ranking and status annotation on read.
type MemoryService interface {
	// Create stores a memory, deduplicating against existing rows. Returns
	// the stored (or pre-existing) row and whether a new row was inserted.
	Create(ctx context.Context, memory *models.Memory) (*models.Memory, bool, error)
	// Retrieve ranks the user's live memories against a query vector across
	// all sessions.
	Retrieve(ctx context.Context, userID string, queryVec []float32, limit int) ([]*RankedMemory, error)
	// List returns the user's live memories, optionally filtered by kind.
	List(ctx context.Context, userID string, kind models.MemoryKind, limit int) ([]*models.Memory, error)
	// MarkForDecay drops a memory's importance after the database
	// contradicted it.
	MarkForDecay(ctx context.Context, memoryID int64) error
}

type memoryService struct {
	memories  repositories.MemoryRepository
	repoRetry *retry.Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(memories repositories.MemoryRepository, logger *zap.Logger) MemoryService {
	return &memoryService{
		memories:  memories,
		repoRetry: retry.RepositoryConfig(),
		logger:    logger.Named("memory"),
		now:       time.Now,
	}
}

var _ MemoryService = (*memoryService)(nil)

// withRepoRetry absorbs a transient repository failure before the error is
// surfaced; permanent errors (constraint violations etc.) fail immediately.
func withRepoRetry[T any](ctx context.Context, cfg *retry.Config, fn func() (T, error)) (T, error) {
	var out T
	err := retry.DoIfRetryable(ctx, cfg, func() error {
		var innerErr error
		out, innerErr = fn()
		return innerErr
	})
	return out, err
}

func (s *memoryService) Create(ctx context.Context, memory *models.Memory) (*models.Memory, bool, error) {
	if strings.TrimSpace(memory.Text) == "" {
		return nil, false, apperrors.Validation("memory text is required")
	}

	// Exact-text dedup within the session: re-stating a fact raises its
	// importance instead of duplicating the row. Kinds must match so that
	// promoting an episodic row to semantic still inserts the semantic copy.
	existing, err := withRepoRetry(ctx, s.repoRetry, func() (*models.Memory, error) {
		return s.memories.FindBySessionText(ctx, memory.SessionID, memory.Text)
	})
	if err != nil {
		return nil, false, apperrors.Repository(err)
	}
	if existing != nil && existing.Kind == memory.Kind {
		return s.absorb(ctx, existing, memory.Importance)
	}

	// Semantic facts also dedup across sessions by approximate text match.
	if memory.Kind == models.MemorySemantic {
		dup, err := s.findSemanticDuplicate(ctx, memory.UserID, memory.Text)
		if err != nil {
			return nil, false, err
		}
		if dup != nil {
			return s.absorb(ctx, dup, memory.Importance)
		}
	}

	if err := retry.DoIfRetryable(ctx, s.repoRetry, func() error {
		return s.memories.Create(ctx, memory)
	}); err != nil {
		return nil, false, apperrors.Repository(err)
	}

	s.logger.Debug("memory stored",
		zap.String("user_id", memory.UserID),
		zap.String("kind", string(memory.Kind)),
		zap.Float64("importance", memory.Importance))
	return memory, true, nil
}

// absorb merges a duplicate into an existing row, keeping the higher
// importance.
func (s *memoryService) absorb(ctx context.Context, existing *models.Memory, importance float64) (*models.Memory, bool, error) {
	if importance > existing.Importance {
		if err := retry.DoIfRetryable(ctx, s.repoRetry, func() error {
			return s.memories.UpdateImportance(ctx, existing.ID, importance)
		}); err != nil {
			return nil, false, apperrors.Repository(err)
		}
		existing.Importance = importance
	}
	return existing, false, nil
}

func (s *memoryService) findSemanticDuplicate(ctx context.Context, userID, text string) (*models.Memory, error) {
	candidates, err := withRepoRetry(ctx, s.repoRetry, func() ([]*models.Memory, error) {
		return s.memories.ListSemanticByUser(ctx, userID)
	})
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	for _, c := range candidates {
		if isSemanticDuplicate(c.Text, text) {
			return c, nil
		}
	}
	return nil, nil
}

// isSemanticDuplicate applies the approximate-match rules: word-set Jaccard
// above 0.8, or substring containment between sufficiently long texts.
func isSemanticDuplicate(a, b string) bool {
	aLower := strings.ToLower(strings.TrimSpace(a))
	bLower := strings.ToLower(strings.TrimSpace(b))
	if aLower == bLower {
		return true
	}

	if len(aLower) > containmentMinLength && len(bLower) > containmentMinLength {
		if strings.Contains(aLower, bLower) || strings.Contains(bLower, aLower) {
			return true
		}
	}

	return jaccard(wordSet(aLower), wordSet(bLower)) > semanticDedupJaccard
}

func wordSet(lower string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		set[strings.Trim(w, ".,!?;:'\"()")] = true
	}
	delete(set, "")
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func (s *memoryService) Retrieve(ctx context.Context, userID string, queryVec []float32, limit int) ([]*RankedMemory, error) {
	if limit <= 0 {
		limit = 5
	}

	similar, err := withRepoRetry(ctx, s.repoRetry, func() ([]*repositories.SimilarMemory, error) {
		return s.memories.SearchSimilar(ctx, userID, queryVec, limit*retrievalOverfetch)
	})
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	now := s.now()
	ranked := make([]*RankedMemory, 0, len(similar))
	for _, sm := range similar {
		ranked = append(ranked, &RankedMemory{
			Memory:        sm.Memory,
			Similarity:    sm.Similarity,
			Score:         sm.Similarity * sm.Memory.Importance * recencyWeight(sm.Memory.CreatedAt, now),
			AnnotatedText: annotateMemoryText(sm.Memory, now),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (s *memoryService) List(ctx context.Context, userID string, kind models.MemoryKind, limit int) ([]*models.Memory, error) {
	if kind == "" {
		memories, err := withRepoRetry(ctx, s.repoRetry, func() ([]*models.Memory, error) {
			return s.memories.ListByUser(ctx, userID, limit)
		})
		if err != nil {
			return nil, apperrors.Repository(err)
		}
		return memories, nil
	}
	if !models.IsValidMemoryKind(kind) {
		return nil, apperrors.Validation("invalid memory kind %q", kind)
	}
	memories, err := withRepoRetry(ctx, s.repoRetry, func() ([]*models.Memory, error) {
		return s.memories.ListByUserKind(ctx, userID, kind, limit)
	})
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	return memories, nil
}

func (s *memoryService) MarkForDecay(ctx context.Context, memoryID int64) error {
	if err := retry.DoIfRetryable(ctx, s.repoRetry, func() error {
		return s.memories.UpdateImportance(ctx, memoryID, decayedImportance)
	}); err != nil {
		return apperrors.Repository(err)
	}
	s.logger.Debug("memory marked for decay", zap.Int64("memory_id", memoryID))
	return nil
}

// recencyWeight decays linearly over a year with a floor of 0.1.
func recencyWeight(createdAt, now time.Time) float64 {
	daysOld := now.Sub(createdAt).Hours() / 24
	weight := 1.0 - daysOld/365.0
	if weight < 0.1 {
		return 0.1
	}
	return weight
}

// annotateMemoryText appends bracketed status notes used by the prompt
// assembler and surfaced to the UI.
func annotateMemoryText(m *models.Memory, now time.Time) string {
	text := m.Text
	lower := strings.ToLower(m.Text)
	daysOld := m.AgeDays(now)

	// Stale preference: the text's own time reference wins over row age.
	if match := daysAgoPattern.FindStringSubmatch(lower); match != nil {
		if referenced, err := strconv.Atoi(match[1]); err == nil && referenced > stalePreferenceDays {
			text += " [Note: This preference is " + strconv.Itoa(referenced) + " days old]"
		}
	} else if strings.Contains(lower, "prefer") && daysOld > stalePreferenceDays {
		text += " [Note: This preference is " + strconv.Itoa(daysOld) + " days old]"
	}

	if strings.Contains(lower, "sla") || strings.Contains(lower, "breach") || strings.Contains(lower, "risk") {
		text += " [Note: This involves SLA risk]"
	}

	if strings.Contains(lower, "done") || strings.Contains(lower, "complete") || strings.Contains(lower, "finished") {
		text += " [Note: This task is completed]"
	}

	if strings.Contains(lower, "invoice") && (strings.Contains(lower, "due") || strings.Contains(lower, "remind")) {
		text += " [Note: This involves invoice reminders]"
	}

	return text
}
