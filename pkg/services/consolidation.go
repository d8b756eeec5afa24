package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/llm"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

const (
	// consolidationWindowDays is how far back memories are gathered.
	consolidationWindowDays = 30
	// consolidationSessionWindow keys the summary row per user.
	consolidationSessionWindow = 3
	// customerMemoryThreshold triggers consolidation when one customer
	// accumulates this many recent memories.
	customerMemoryThreshold = 3
	// promotionMinOccurrences is how many similar episodic rows it takes to
	// promote a pattern to a semantic memory.
	promotionMinOccurrences = 2
)

// forceConsolidationTokens trigger consolidation directly from message text.
var forceConsolidationTokens = []string{"tc boiler", "kai media", "net15"}

// promotionPatternWords mark an episodic memory as a candidate recurring
// preference.
var promotionPatternWords = []string{"prefers", "likes", "always", "never"}

var (
	netTermsPattern = regexp.MustCompile(`(?i)\bNET\d+\b`)
	soRefPattern    = regexp.MustCompile(`(?i)\bSO-\d+\b`)
	dollarPattern   = regexp.MustCompile(`\$\d+(?:,\d{3})*(?:\.\d{2})?(?:/month)?`)
)

// preferenceDayTokens feed the Preferences bucket.
var preferenceDayTokens = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// ConsolidationService compresses a user's recent memories into a per-customer
// summary row and promotes recurring episodic patterns to semantic memories.
type ConsolidationService interface {
	// ShouldConsolidate checks the trigger rules for the current turn.
	ShouldConsolidate(ctx context.Context, userID, message string) (bool, error)
	// Consolidate runs the full pass and returns the upserted summary.
	Consolidate(ctx context.Context, userID string) (*models.MemorySummary, error)
}

type consolidationService struct {
	memories      repositories.MemoryRepository
	memoryService MemoryService
	summaries     repositories.SummaryRepository
	domain        repositories.DomainRepository
	embedding     EmbeddingService
	pool          *llm.WorkerPool
	titleCaser    cases.Caser
	logger        *zap.Logger
	now           func() time.Time
}

// NewConsolidationService creates a new ConsolidationService.
func NewConsolidationService(
	memories repositories.MemoryRepository,
	memoryService MemoryService,
	summaries repositories.SummaryRepository,
	domain repositories.DomainRepository,
	embedding EmbeddingService,
	pool *llm.WorkerPool,
	logger *zap.Logger,
) ConsolidationService {
	return &consolidationService{
		memories:      memories,
		memoryService: memoryService,
		summaries:     summaries,
		domain:        domain,
		embedding:     embedding,
		pool:          pool,
		titleCaser:    cases.Title(language.English),
		logger:        logger.Named("consolidation"),
		now:           time.Now,
	}
}

var _ ConsolidationService = (*consolidationService)(nil)

func (s *consolidationService) ShouldConsolidate(ctx context.Context, userID, message string) (bool, error) {
	lower := strings.ToLower(message)
	for _, token := range forceConsolidationTokens {
		if strings.Contains(lower, token) {
			return true, nil
		}
	}

	// Stale preferences are checked across the whole semantic set, not just
	// the recent window.
	semantic, err := s.memories.ListSemanticByUser(ctx, userID)
	if err != nil {
		return false, apperrors.Repository(err)
	}
	now := s.now()
	for _, m := range semantic {
		if !strings.Contains(strings.ToLower(m.Text), "prefer") {
			continue
		}
		if m.AgeDays(now) > stalePreferenceDays || m.Importance < 0.7 {
			return true, nil
		}
	}

	recent, err := s.memories.ListByUserSince(ctx, userID, now.AddDate(0, 0, -consolidationWindowDays))
	if err != nil {
		return false, apperrors.Repository(err)
	}

	for _, m := range recent {
		textLower := strings.ToLower(m.Text)
		if strings.Contains(textLower, "task") &&
			(strings.Contains(textLower, "done") || strings.Contains(textLower, "complete") || strings.Contains(textLower, "finished")) {
			return true, nil
		}
	}

	customers, err := s.domain.ListCustomers(ctx)
	if err != nil {
		return false, apperrors.Repository(err)
	}
	for _, c := range customers {
		nameLower := strings.ToLower(c.Name)
		count := 0
		for _, m := range recent {
			if strings.Contains(strings.ToLower(m.Text), nameLower) {
				count++
			}
		}
		if count >= customerMemoryThreshold {
			return true, nil
		}
	}

	return false, nil
}

func (s *consolidationService) Consolidate(ctx context.Context, userID string) (*models.MemorySummary, error) {
	now := s.now()
	recent, err := s.memories.ListByUserSince(ctx, userID, now.AddDate(0, 0, -consolidationWindowDays))
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if len(recent) == 0 {
		return nil, apperrors.NotFound("no memories found to consolidate")
	}

	customers, err := s.domain.ListCustomers(ctx)
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	summaryText := s.buildSummaryText(userID, recent, customers)

	embedding, _ := s.embedding.EmbedText(ctx, summaryText)

	summary := &models.MemorySummary{
		UserID:        userID,
		SessionWindow: consolidationSessionWindow,
		Summary:       summaryText,
		Embedding:     embedding,
	}
	if err := s.summaries.Upsert(ctx, summary); err != nil {
		return nil, apperrors.Repository(err)
	}

	if err := s.promoteRecurringPatterns(ctx, userID, recent); err != nil {
		// Promotion failures don't invalidate the summary.
		s.logger.Warn("episodic promotion failed", zap.Error(err))
	}

	s.logger.Info("memories consolidated",
		zap.String("user_id", userID),
		zap.Int("memory_count", len(recent)),
		zap.Int64("summary_id", summary.ID))
	return summary, nil
}

// buildSummaryText groups memories by recognized customer and extracts key
// info across four buckets: terms, orders, payments, preferences.
func (s *consolidationService) buildSummaryText(userID string, memories []*models.Memory, customers []*models.Customer) string {
	sections := make([]string, 0)

	for _, c := range customers {
		nameLower := strings.ToLower(c.Name)
		group := make([]*models.Memory, 0)
		for _, m := range memories {
			if strings.Contains(strings.ToLower(m.Text), nameLower) {
				group = append(group, m)
			}
		}
		if len(group) == 0 {
			continue
		}

		section := s.customerSection(nameLower, group)
		if section != "" {
			sections = append(sections, section)
		}
	}

	header := fmt.Sprintf("Memory consolidation for user %s covering %d sessions.", userID, consolidationSessionWindow)
	if len(sections) == 0 {
		return header + " " + s.kindCounts(memories)
	}
	return header + " " + strings.Join(sections, " | ")
}

func (s *consolidationService) customerSection(nameLower string, group []*models.Memory) string {
	var terms, orders, payments, preferences []string

	appendUnique := func(dst []string, v string) []string {
		for _, existing := range dst {
			if existing == v {
				return dst
			}
		}
		return append(dst, v)
	}

	for _, m := range group {
		textLower := strings.ToLower(m.Text)

		for _, match := range netTermsPattern.FindAllString(m.Text, -1) {
			terms = appendUnique(terms, strings.ToUpper(match))
		}

		for _, match := range soRefPattern.FindAllString(m.Text, -1) {
			orders = appendUnique(orders, strings.ToUpper(match))
		}
		if strings.Contains(textLower, "rush") {
			orders = appendUnique(orders, "rush WO")
		}

		for _, match := range dollarPattern.FindAllString(m.Text, -1) {
			if strings.Contains(textLower, "plan") {
				match += " plan"
			}
			payments = appendUnique(payments, match)
		}

		if strings.Contains(textLower, "ach") {
			preferences = appendUnique(preferences, "ACH")
		}
		for _, day := range preferenceDayTokens {
			if strings.Contains(textLower, day) {
				preferences = appendUnique(preferences, s.titleCaser.String(day)+" deliveries")
			}
		}
	}

	parts := make([]string, 0, 4)
	if len(terms) > 0 {
		parts = append(parts, "Terms: "+strings.Join(terms, ", "))
	}
	if len(orders) > 0 {
		parts = append(parts, "Orders: "+strings.Join(orders, ", "))
	}
	if len(payments) > 0 {
		parts = append(parts, "Payments: "+strings.Join(payments, ", "))
	}
	if len(preferences) > 0 {
		parts = append(parts, "Preferences: "+strings.Join(preferences, ", "))
	}
	if len(parts) == 0 {
		parts = append(parts, strconv.Itoa(len(group))+" recent memories")
	}

	return s.titleCaser.String(nameLower) + ": " + strings.Join(parts, "; ")
}

func (s *consolidationService) kindCounts(memories []*models.Memory) string {
	counts := make(map[models.MemoryKind]int)
	for _, m := range memories {
		counts[m.Kind]++
	}

	parts := make([]string, 0, len(counts))
	for _, kind := range models.ValidMemoryKinds {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s memories: %d items", s.titleCaser.String(string(kind)), n))
		}
	}
	return strings.Join(parts, "; ")
}

// promoteRecurringPatterns turns episodic preference statements that repeat
// across the window into permanent semantic memories. Embeddings for the
// promoted texts are generated through the worker pool.
func (s *consolidationService) promoteRecurringPatterns(ctx context.Context, userID string, memories []*models.Memory) error {
	candidates := make([]*models.Memory, 0)
	for _, m := range memories {
		if m.Kind != models.MemoryEpisodic {
			continue
		}
		textLower := strings.ToLower(m.Text)
		for _, word := range promotionPatternWords {
			if strings.Contains(textLower, word) {
				candidates = append(candidates, m)
				break
			}
		}
	}
	if len(candidates) < promotionMinOccurrences {
		return nil
	}

	// Cluster by approximate text match; the earliest member represents the
	// pattern.
	promoted := make([]*models.Memory, 0)
	used := make([]bool, len(candidates))
	for i, m := range candidates {
		if used[i] {
			continue
		}
		occurrences := 1
		for j := i + 1; j < len(candidates); j++ {
			if !used[j] && isSemanticDuplicate(m.Text, candidates[j].Text) {
				used[j] = true
				occurrences++
			}
		}
		if occurrences >= promotionMinOccurrences {
			promoted = append(promoted, m)
		}
	}
	if len(promoted) == 0 {
		return nil
	}

	items := make([]llm.WorkItem[[]float32], 0, len(promoted))
	for _, m := range promoted {
		text := m.Text
		items = append(items, llm.WorkItem[[]float32]{
			ID: text,
			Execute: func(ctx context.Context) ([]float32, error) {
				vec, _ := s.embedding.EmbedText(ctx, text)
				return vec, nil
			},
		})
	}

	embeddings := make(map[string][]float32, len(promoted))
	for _, result := range llm.Process(ctx, s.pool, items, nil) {
		if result.Err == nil {
			embeddings[result.ID] = result.Result
		}
	}

	for _, m := range promoted {
		memory := &models.Memory{
			SessionID:  m.SessionID,
			UserID:     userID,
			Kind:       models.MemorySemantic,
			Text:       m.Text,
			Embedding:  embeddings[m.Text],
			Importance: 0.9,
		}
		if _, created, err := s.memoryService.Create(ctx, memory); err != nil {
			return err
		} else if created {
			s.logger.Debug("episodic pattern promoted",
				zap.String("user_id", userID),
				zap.String("text", memory.Text))
		}
	}

	return nil
}
