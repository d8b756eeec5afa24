package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/llm"
	"github.com/contexthq/memory-engine/pkg/models"
)

type consolidationFixture struct {
	memories  *mockMemoryRepository
	summaries *mockSummaryRepository
	domain    *mockDomainRepository
	svc       ConsolidationService
	now       time.Time
}

func newConsolidationFixture(t *testing.T) *consolidationFixture {
	t.Helper()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	memories := newMockMemoryRepository()
	memories.now = func() time.Time { return now }
	summaries := newMockSummaryRepository()
	domain := newMockDomainRepository()

	svc := &consolidationService{
		memories:      memories,
		memoryService: newTestMemoryService(memories, now),
		summaries:     summaries,
		domain:        domain,
		embedding:     newTestEmbedding(),
		pool:          llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop()),
		titleCaser:    cases.Title(language.English),
		logger:        zap.NewNop(),
		now:           func() time.Time { return now },
	}
	return &consolidationFixture{
		memories:  memories,
		summaries: summaries,
		domain:    domain,
		svc:       svc,
		now:       now,
	}
}

func (f *consolidationFixture) addMemory(kind models.MemoryKind, text string, importance float64, ageDays int) {
	mem := &models.Memory{
		SessionID:  "s1",
		UserID:     "u1",
		Kind:       kind,
		Text:       text,
		Importance: importance,
		CreatedAt:  f.now.AddDate(0, 0, -ageDays),
	}
	if err := f.memories.Create(context.Background(), mem); err != nil {
		panic(err)
	}
}

func TestShouldConsolidate_ForceTokens(t *testing.T) {
	f := newConsolidationFixture(t)

	for _, msg := range []string{
		"Anything new with TC Boiler?",
		"kai media update please",
		"they moved to net15",
	} {
		ok, err := f.svc.ShouldConsolidate(context.Background(), "u1", msg)
		require.NoError(t, err)
		assert.True(t, ok, "message: %s", msg)
	}
}

func TestShouldConsolidate_StalePreference(t *testing.T) {
	f := newConsolidationFixture(t)
	f.addMemory(models.MemorySemantic, "User prefers morning calls", 0.9, 120)

	ok, err := f.svc.ShouldConsolidate(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShouldConsolidate_LowImportancePreference(t *testing.T) {
	f := newConsolidationFixture(t)
	f.addMemory(models.MemorySemantic, "User prefers email contact", 0.3, 5)

	ok, err := f.svc.ShouldConsolidate(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShouldConsolidate_CompletedTask(t *testing.T) {
	f := newConsolidationFixture(t)
	f.addMemory(models.MemoryEpisodic, "The shipping task is done", 0.8, 2)

	ok, err := f.svc.ShouldConsolidate(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShouldConsolidate_CustomerMemoryThreshold(t *testing.T) {
	f := newConsolidationFixture(t)
	f.domain.addCustomer("Gai Media")
	f.addMemory(models.MemoryEpisodic, "Drafted email for Gai Media", 0.5, 1)
	f.addMemory(models.MemoryEpisodic, "Gai Media called about the order", 0.5, 3)
	f.addMemory(models.MemoryEpisodic, "Checked shipping for Gai Media", 0.5, 7)

	ok, err := f.svc.ShouldConsolidate(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShouldConsolidate_QuietStateFalse(t *testing.T) {
	f := newConsolidationFixture(t)
	f.domain.addCustomer("Gai Media")
	f.addMemory(models.MemoryEpisodic, "Drafted a note", 0.8, 2)

	ok, err := f.svc.ShouldConsolidate(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsolidate_EmptyWindow(t *testing.T) {
	f := newConsolidationFixture(t)

	_, err := f.svc.Consolidate(context.Background(), "u1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConsolidate_CustomerBuckets(t *testing.T) {
	f := newConsolidationFixture(t)
	f.domain.addCustomer("TC Boiler")

	f.addMemory(models.MemorySemantic, "TC Boiler is NET15", 0.9, 2)
	f.addMemory(models.MemoryEpisodic, "TC Boiler placed a rush order SO-4004", 0.8, 3)
	f.addMemory(models.MemoryEpisodic, "TC Boiler pays $500/month plan", 0.8, 4)
	f.addMemory(models.MemorySemantic, "TC Boiler pays by ACH and wants Friday visits", 0.9, 5)

	summary, err := f.svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, 3, summary.SessionWindow)
	assert.NotEmpty(t, summary.Embedding)
	assert.Equal(t,
		"Memory consolidation for user u1 covering 3 sessions. "+
			"Tc Boiler: Terms: NET15; Orders: SO-4004, rush WO; Payments: $500/month plan; Preferences: ACH, Friday deliveries",
		summary.Summary)

	// Upserted once per user.
	stored, err := f.summaries.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, summary.ID, stored[0].ID)
}

func TestConsolidate_KindCountsFallback(t *testing.T) {
	f := newConsolidationFixture(t)

	f.addMemory(models.MemoryEpisodic, "Drafted a note", 0.5, 1)
	f.addMemory(models.MemoryEpisodic, "Checked an update", 0.5, 2)
	f.addMemory(models.MemorySemantic, "User reads summaries weekly", 0.9, 3)

	summary, err := f.svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t,
		"Memory consolidation for user u1 covering 3 sessions. "+
			"Episodic memories: 2 items; Semantic memories: 1 items",
		summary.Summary)
}

func TestConsolidate_PromotesRecurringEpisodicPattern(t *testing.T) {
	f := newConsolidationFixture(t)

	// Same preference stated twice in the window.
	require.NoError(t, f.memories.Create(context.Background(), &models.Memory{
		SessionID: "s1", UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "Kai Media prefers Friday deliveries", Importance: 0.5,
		CreatedAt: f.now.AddDate(0, 0, -10),
	}))
	require.NoError(t, f.memories.Create(context.Background(), &models.Memory{
		SessionID: "s2", UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "Kai Media prefers Friday deliveries", Importance: 0.5,
		CreatedAt: f.now.AddDate(0, 0, -3),
	}))

	_, err := f.svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)

	semantic, err := f.memories.ListSemanticByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, semantic, 1)
	assert.Equal(t, "Kai Media prefers Friday deliveries", semantic[0].Text)
	assert.InDelta(t, 0.9, semantic[0].Importance, 1e-9)
	assert.NotEmpty(t, semantic[0].Embedding)
}

func TestConsolidate_SingleOccurrenceNotPromoted(t *testing.T) {
	f := newConsolidationFixture(t)

	require.NoError(t, f.memories.Create(context.Background(), &models.Memory{
		SessionID: "s1", UserID: "u1", Kind: models.MemoryEpisodic,
		Text: "Kai Media prefers Friday deliveries", Importance: 0.5,
		CreatedAt: f.now.AddDate(0, 0, -10),
	}))

	_, err := f.svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)

	semantic, err := f.memories.ListSemanticByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, semantic)
}
