package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/models"
)

func newTestAliasService(memories *mockMemoryRepository) AliasService {
	return NewAliasService(memories, newTestEmbedding(), zap.NewNop())
}

func TestAliasService_StoreAndExactMatch(t *testing.T) {
	memories := newMockMemoryRepository()
	svc := newTestAliasService(memories)
	ctx := context.Background()

	err := svc.StoreAlias(ctx, "u1", "s1", "the boiler people", "TC Boiler", "cust-42")
	require.NoError(t, err)

	match, err := svc.ExactMatch(ctx, "u1", "The Boiler People")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "TC Boiler", match.EntityName)
	assert.Equal(t, "cust-42", match.EntityID)
	assert.Equal(t, "exact", match.Confidence)

	// Stored as a semantic memory row with an alias ref.
	stored := memories.sorted()
	require.Len(t, stored, 1)
	assert.Equal(t, models.MemorySemantic, stored[0].Kind)
	assert.Equal(t, "Alias mapping: 'the boiler people' refers to 'TC Boiler' (ID: cust-42)", stored[0].Text)
	assert.InDelta(t, 0.8, stored[0].Importance, 1e-9)
	require.NotNil(t, stored[0].Ref)
	assert.Equal(t, models.RefTypeAliasMapping, stored[0].Ref.Type)
	assert.Equal(t, "the boiler people", stored[0].Ref.AliasText)
}

func TestAliasService_ExactMatch_NoHit(t *testing.T) {
	svc := newTestAliasService(newMockMemoryRepository())

	match, err := svc.ExactMatch(context.Background(), "u1", "unknown alias")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestAliasService_ExactMatch_ScopedToUser(t *testing.T) {
	memories := newMockMemoryRepository()
	svc := newTestAliasService(memories)
	ctx := context.Background()

	require.NoError(t, svc.StoreAlias(ctx, "u1", "s1", "my main customer", "Kai Media", "cust-1"))

	match, err := svc.ExactMatch(ctx, "u2", "my main customer")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestAliasService_RepointingReturnsNewest(t *testing.T) {
	memories := newMockMemoryRepository()
	svc := newTestAliasService(memories)
	ctx := context.Background()

	require.NoError(t, svc.StoreAlias(ctx, "u1", "s1", "the boiler people", "PC Boiler", "cust-1"))
	require.NoError(t, svc.StoreAlias(ctx, "u1", "s2", "the boiler people", "TC Boiler", "cust-2"))

	match, err := svc.ExactMatch(ctx, "u1", "the boiler people")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "TC Boiler", match.EntityName)
	assert.Equal(t, "cust-2", match.EntityID)
}

func TestAliasService_StoreAlias_Validation(t *testing.T) {
	svc := newTestAliasService(newMockMemoryRepository())

	err := svc.StoreAlias(context.Background(), "u1", "s1", "   ", "TC Boiler", "cust-1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = svc.StoreAlias(context.Background(), "u1", "s1", "alias", "", "cust-1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAliasService_Multilingual(t *testing.T) {
	memories := newMockMemoryRepository()
	svc := newTestAliasService(memories)
	ctx := context.Background()

	require.NoError(t, svc.StoreMultilingual(ctx, "u1", "s1", "der Kessel", "the boiler"))

	translated, err := svc.Translate(ctx, "u1", "Der Kessel")
	require.NoError(t, err)
	assert.Equal(t, "the boiler", translated)

	// Unknown text passes through untouched.
	translated, err = svc.Translate(ctx, "u1", "la facture")
	require.NoError(t, err)
	assert.Equal(t, "la facture", translated)

	stored := memories.sorted()
	require.Len(t, stored, 1)
	assert.Equal(t, "Multilingual mapping: 'der Kessel' means 'the boiler'", stored[0].Text)
	assert.InDelta(t, 0.7, stored[0].Importance, 1e-9)
	require.NotNil(t, stored[0].Ref)
	assert.Equal(t, models.RefTypeMultilingualMapping, stored[0].Ref.Type)
}
