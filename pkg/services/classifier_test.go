package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/llm"
	"github.com/contexthq/memory-engine/pkg/models"
)

func TestClassify_ForceSemanticTokens(t *testing.T) {
	client := llm.NewMockLLMClient()
	classifier := NewMemoryClassifier(client, zap.NewNop())

	for _, text := range []string{
		"remember: they pay by ACH",
		"They prefer Friday deliveries",
		"TC Boiler is NET15, payment terms confirmed",
	} {
		cm := classifier.Classify(context.Background(), text, nil)
		require.NotNil(t, cm, "text: %s", text)
		assert.Equal(t, CategoryKnowledge, cm.Category)
		assert.Equal(t, models.MemorySemantic, cm.Kind)
		assert.InDelta(t, 0.9, cm.Importance, 1e-9)
		assert.Nil(t, cm.TTLDays)
		assert.InDelta(t, 1.0, cm.Confidence, 1e-9)
	}

	// Deterministic promotion never touches the model.
	assert.Equal(t, 0, client.GenerateResponseCalls)
}

func TestClassify_CustomerNameForcesSemantic(t *testing.T) {
	client := llm.NewMockLLMClient()
	classifier := NewMemoryClassifier(client, zap.NewNop())

	cm := classifier.Classify(context.Background(), "Gai Media wants expedited shipping", []string{"Gai Media"})
	assert.Equal(t, models.MemorySemantic, cm.Kind)
	assert.Equal(t, CategoryKnowledge, cm.Category)
	assert.Equal(t, 0, client.GenerateResponseCalls)
}

func TestClassify_ModelVerdict(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*llm.GenerateResponseResult, error) {
		assert.InDelta(t, 0.1, temperature, 1e-9)
		return &llm.GenerateResponseResult{Content: `{
			"category": "ACTION",
			"kind": "episodic",
			"importance": 0.85,
			"ttl_days": 14,
			"reasoning": "an email was drafted",
			"confidence": 0.95
		}`}, nil
	}
	classifier := NewMemoryClassifier(client, zap.NewNop())

	cm := classifier.Classify(context.Background(), "Drafted the follow-up note", nil)
	assert.Equal(t, CategoryAction, cm.Category)
	assert.Equal(t, models.MemoryEpisodic, cm.Kind)
	assert.InDelta(t, 0.85, cm.Importance, 1e-9)
	require.NotNil(t, cm.TTLDays)
	assert.Equal(t, 14, *cm.TTLDays)
	assert.InDelta(t, 0.95, cm.Confidence, 1e-9)
	assert.Equal(t, 1, client.GenerateResponseCalls)
}

func TestClassify_ModelVerdictNormalized(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: `{
			"category": "knowledge",
			"kind": "semantic",
			"importance": 1.7,
			"ttl_days": 5,
			"confidence": 0.9
		}`}, nil
	}
	classifier := NewMemoryClassifier(client, zap.NewNop())

	cm := classifier.Classify(context.Background(), "Drafted the follow-up note", nil)
	assert.Equal(t, CategoryKnowledge, cm.Category)
	assert.Equal(t, models.MemorySemantic, cm.Kind)
	assert.InDelta(t, 1.0, cm.Importance, 1e-9)
	// Semantic memories persist; a model-supplied TTL is discarded.
	assert.Nil(t, cm.TTLDays)
}

func TestClassify_FallsBackToRulesOnBadJSON(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: "sorry, I cannot help with that"}, nil
	}
	classifier := NewMemoryClassifier(client, zap.NewNop())

	cm := classifier.Classify(context.Background(), "Drafted and sent the email", nil)
	assert.Equal(t, CategoryAction, cm.Category)
	assert.Equal(t, models.MemoryEpisodic, cm.Kind)
	assert.InDelta(t, 0.8, cm.Importance, 1e-9)
	require.NotNil(t, cm.TTLDays)
	assert.Equal(t, models.DefaultEpisodicTTLDays, *cm.TTLDays)
	assert.InDelta(t, 0.6, cm.Confidence, 1e-9)
}

func TestRuleBasedClassify(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		category   string
		kind       string
		importance float64
		confidence float64
	}{
		{"action keywords win", "Drafted and sent the email", "ACTION", "episodic", 0.8, 0.6},
		{"knowledge keywords win", "Their policy is net30 with delivery on monday", "KNOWLEDGE", "semantic", 0.9, 0.6},
		{"no signal defaults to action", "okay then", "ACTION", "episodic", 0.7, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ruleBasedClassify(tt.text)
			assert.Equal(t, tt.category, result.Category)
			assert.Equal(t, tt.kind, result.Kind)
			assert.InDelta(t, tt.importance, result.Importance, 1e-9)
			assert.InDelta(t, tt.confidence, result.Confidence, 1e-9)
		})
	}
}

func TestImplicitPreference(t *testing.T) {
	classifier := NewMemoryClassifier(llm.NewMockLLMClient(), zap.NewNop())

	tests := []struct {
		name  string
		text  string
		names []string
		want  string
	}{
		{
			"reschedule to friday",
			"Reschedule the TC Boiler visit to Friday",
			[]string{"TC Boiler"},
			"TC Boiler prefers Friday; align WO scheduling accordingly.",
		},
		{
			"explicit friday preference",
			"Kai Media prefer Friday deliveries going forward",
			[]string{"Kai Media"},
			"Kai Media prefers Friday deliveries for all shipments.",
		},
		{
			"net terms",
			"TC Boiler agreed to NET15",
			[]string{"TC Boiler"},
			"TC Boiler is NET15; align payment terms accordingly.",
		},
		{
			"stated terms carry through",
			"TC Boiler agreed to NET30 going forward.",
			[]string{"TC Boiler"},
			"TC Boiler is NET30; align payment terms accordingly.",
		},
		{
			"lowercase terms normalized",
			"Kai Media moved to net45 this quarter",
			[]string{"Kai Media"},
			"Kai Media is NET45; align payment terms accordingly.",
		},
		{
			"net substring alone is not a terms mention",
			"Kai Media runs an internet radio promo.",
			[]string{"Kai Media"},
			"",
		},
		{
			"no customer in text",
			"Reschedule to Friday",
			[]string{"TC Boiler"},
			"",
		},
		{
			"customer without pattern",
			"Called TC Boiler about the quote",
			[]string{"TC Boiler"},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.ImplicitPreference(tt.text, tt.names))
		})
	}
}
