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

func candidate(name, confidence string) *models.Entity {
	return &models.Entity{
		Name:   name,
		Type:   models.EntityTypeCustomer,
		Source: models.EntitySourceMessage,
		Ref:    models.EntityRef{Table: "customers", ID: "id-" + name, Confidence: confidence},
	}
}

func assistantEvent(content string) *models.ChatEvent {
	return &models.ChatEvent{Role: models.ChatRoleAssistant, Content: content}
}

func userEvent(content string) *models.ChatEvent {
	return &models.ChatEvent{Role: models.ChatRoleUser, Content: content}
}

func newTestDisambiguation(domain *mockDomainRepository, memories *mockMemoryRepository) DisambiguationService {
	aliases := NewAliasService(memories, newTestEmbedding(), zap.NewNop())
	return NewDisambiguationService(aliases, domain, zap.NewNop())
}

func TestDecide_NoCandidates(t *testing.T) {
	svc := newTestDisambiguation(newMockDomainRepository(), newMockMemoryRepository())

	outcome, err := svc.Decide(context.Background(), "u1", "s1", "hello", nil, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Needed)
	assert.Nil(t, outcome.Selected)
}

func TestDecide_SingleCandidateAutoSelected(t *testing.T) {
	svc := newTestDisambiguation(newMockDomainRepository(), newMockMemoryRepository())

	c := candidate("TC Boiler", "fuzzy")
	outcome, err := svc.Decide(context.Background(), "u1", "s1", "tc status?", []*models.Entity{c}, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Needed)
	assert.Equal(t, c, outcome.Selected)
}

func TestDecide_ClearWinnerAutoSelected(t *testing.T) {
	svc := newTestDisambiguation(newMockDomainRepository(), newMockMemoryRepository())

	exact := candidate("Kai Media", "exact")
	fuzzy := candidate("Kai Media Europe", "fuzzy")
	outcome, err := svc.Decide(context.Background(), "u1", "s1", "kai media status", []*models.Entity{exact, fuzzy}, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Needed)
	assert.Equal(t, exact, outcome.Selected)
}

func TestDecide_TiedCandidatesAskForClarification(t *testing.T) {
	svc := newTestDisambiguation(newMockDomainRepository(), newMockMemoryRepository())

	a := candidate("Kai Media", "fuzzy")
	b := candidate("Kai Media Europe", "fuzzy")
	outcome, err := svc.Decide(context.Background(), "u1", "s1", "kai status?", []*models.Entity{a, b}, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Needed)
	assert.Nil(t, outcome.Selected)
	assert.Equal(t, []*models.Entity{a, b}, outcome.Candidates)
	assert.Equal(t,
		"I found multiple possible matches for your query. Please clarify which one you mean:\n\n"+
			"1. Kai Media\n"+
			"2. Kai Media Europe\n"+
			"\nPlease respond with the number or name of your choice.",
		outcome.Prompt)
}

func TestDecide_ClarificationReplyByOrdinal(t *testing.T) {
	domain := newMockDomainRepository()
	kai := domain.addCustomer("Kai Media")
	domain.addCustomer("Kai Media Europe")
	memories := newMockMemoryRepository()
	svc := newTestDisambiguation(domain, memories)

	history := []*models.ChatEvent{
		userEvent("kai status?"),
		assistantEvent(buildClarificationPrompt([]*models.Entity{
			candidate("Kai Media", "fuzzy"),
			candidate("Kai Media Europe", "fuzzy"),
		})),
	}

	outcome, err := svc.Decide(context.Background(), "u1", "s1", "1", nil, history)
	require.NoError(t, err)

	assert.True(t, outcome.ClarificationReply)
	require.NotNil(t, outcome.Selected)
	assert.Equal(t, "Kai Media", outcome.Selected.Name)
	assert.Equal(t, kai.ID.String(), outcome.Selected.Ref.ID)

	// The raw reply is learned as an alias for the chosen entity.
	stored, err := memories.FindAliasMapping(context.Background(), "u1", "1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Kai Media", stored.Ref.EntityName)
}

func TestDecide_ClarificationReplyByName(t *testing.T) {
	domain := newMockDomainRepository()
	domain.addCustomer("Kai Media")
	europe := domain.addCustomer("Kai Media Europe")
	svc := newTestDisambiguation(domain, newMockMemoryRepository())

	history := []*models.ChatEvent{
		assistantEvent(buildClarificationPrompt([]*models.Entity{
			candidate("Kai Media", "fuzzy"),
			candidate("Kai Media Europe", "fuzzy"),
		})),
	}

	outcome, err := svc.Decide(context.Background(), "u1", "s1", "Europe", nil, history)
	require.NoError(t, err)

	assert.True(t, outcome.ClarificationReply)
	require.NotNil(t, outcome.Selected)
	assert.Equal(t, "Kai Media Europe", outcome.Selected.Name)
	assert.Equal(t, europe.ID.String(), outcome.Selected.Ref.ID)
}

func TestDecide_ClarificationReplyDefaultsToFirstOption(t *testing.T) {
	domain := newMockDomainRepository()
	kai := domain.addCustomer("Kai Media")
	domain.addCustomer("Kai Media Europe")
	svc := newTestDisambiguation(domain, newMockMemoryRepository())

	history := []*models.ChatEvent{
		assistantEvent(buildClarificationPrompt([]*models.Entity{
			candidate("Kai Media", "fuzzy"),
			candidate("Kai Media Europe", "fuzzy"),
		})),
	}

	outcome, err := svc.Decide(context.Background(), "u1", "s1", "whatever works", nil, history)
	require.NoError(t, err)
	require.NotNil(t, outcome.Selected)
	assert.Equal(t, kai.ID.String(), outcome.Selected.Ref.ID)
}

func TestDecide_ClarificationIgnoredWhenNewerAssistantMessageExists(t *testing.T) {
	svc := newTestDisambiguation(newMockDomainRepository(), newMockMemoryRepository())

	// The clarification is stale: a later assistant message closed it out.
	history := []*models.ChatEvent{
		assistantEvent(buildClarificationPrompt([]*models.Entity{candidate("Kai Media", "fuzzy")})),
		userEvent("1"),
		assistantEvent("Got it! You selected Kai Media. Let me help you with that."),
	}

	c := candidate("TC Boiler", "exact")
	outcome, err := svc.Decide(context.Background(), "u1", "s1", "tc boiler status", []*models.Entity{c}, history)
	require.NoError(t, err)
	assert.False(t, outcome.ClarificationReply)
	assert.Equal(t, c, outcome.Selected)
}

func TestDecide_ClarificationReplyForVanishedCustomer(t *testing.T) {
	// The prompt offered a customer that is no longer in the store.
	svc := newTestDisambiguation(newMockDomainRepository(), newMockMemoryRepository())

	history := []*models.ChatEvent{
		assistantEvent(buildClarificationPrompt([]*models.Entity{candidate("Kai Media", "fuzzy")})),
	}

	_, err := svc.Decide(context.Background(), "u1", "s1", "1", nil, history)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
