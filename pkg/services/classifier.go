package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/llm"
	"github.com/contexthq/memory-engine/pkg/models"
)

// MemoryCategory labels what a classified utterance records.
type MemoryCategory string

const (
	// CategoryAction records something the system or user did.
	CategoryAction MemoryCategory = "ACTION"
	// CategoryKnowledge records a durable preference or rule.
	CategoryKnowledge MemoryCategory = "KNOWLEDGE"
	// CategoryStatus records a state observation.
	CategoryStatus MemoryCategory = "STATUS"
	// CategoryPreference records an explicit user preference.
	CategoryPreference MemoryCategory = "PREFERENCE"
)

// ClassifiedMemory is the classifier's verdict for one utterance.
type ClassifiedMemory struct {
	Text       string
	Category   MemoryCategory
	Kind       models.MemoryKind
	Importance float64
	TTLDays    *int
	Confidence float64
	Reasoning  string
}

// forceSemanticTokens promote an utterance straight to a permanent semantic
// memory, no model call. Customer names are checked separately.
var forceSemanticTokens = []string{
	"remember:", "prefer", "like", "always", "never",
	"is net", "payment terms", "ach",
}

// Fallback keyword lists, applied when the provider is down or returns
// unparseable JSON.
var actionKeywords = []string{
	"drafted", "sent", "created", "completed", "finished", "done",
	"rescheduled", "updated", "processed", "executed", "performed",
	"email", "work order", "invoice", "order", "task",
}

var knowledgeKeywords = []string{
	"prefers", "likes", "dislikes", "always", "never", "usually",
	"policy", "rule", "standard", "preference", "habit", "custom",
	"net15", "net30", "ach", "credit card", "friday", "monday",
}

const classifierSystemPrompt = `You are a memory classification expert. Classify the given text as ACTION or KNOWLEDGE.

ACTION (episodic): something was done - an email drafted, an order created, a work order rescheduled, a status changed.
KNOWLEDGE (semantic): a durable preference, business rule, or customer fact - payment terms, delivery preferences, policies.

Return a JSON object:
{
    "category": "ACTION" or "KNOWLEDGE",
    "kind": "episodic" or "semantic",
    "importance": 0.0-1.0,
    "ttl_days": null or a number,
    "reasoning": "why",
    "confidence": 0.0-1.0
}`

// classificationResult is the model's JSON verdict.
type classificationResult struct {
	Category   string  `json:"category"`
	Kind       string  `json:"kind"`
	Importance float64 `json:"importance"`
	TTLDays    *int    `json:"ttl_days"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// MemoryClassifier turns user utterances into typed memory candidates.
// Deterministic rules run first; the model refines the rest; keyword rules
// are the self-sufficient fallback so the pipeline never blocks on a
// provider.
type MemoryClassifier interface {
	// Classify labels one masked utterance. customerNames are the display
	// names of customers recognized in the message.
	Classify(ctx context.Context, text string, customerNames []string) *ClassifiedMemory
	// ImplicitPreference synthesizes a standing-preference sentence implied
	// by the message, or "" when none applies.
	ImplicitPreference(text string, customerNames []string) string
}

type memoryClassifier struct {
	client llm.LLMClient
	logger *zap.Logger
}

// NewMemoryClassifier creates a new MemoryClassifier.
func NewMemoryClassifier(client llm.LLMClient, logger *zap.Logger) MemoryClassifier {
	return &memoryClassifier{
		client: client,
		logger: logger.Named("classifier"),
	}
}

var _ MemoryClassifier = (*memoryClassifier)(nil)

func (c *memoryClassifier) Classify(ctx context.Context, text string, customerNames []string) *ClassifiedMemory {
	if cm := forceSemantic(text, customerNames); cm != nil {
		return cm
	}

	result, err := c.llmClassify(ctx, text)
	if err != nil {
		c.logger.Warn("model classification failed, using keyword rules", zap.Error(err))
		result = ruleBasedClassify(text)
	}

	return toClassifiedMemory(text, result)
}

func (c *memoryClassifier) llmClassify(ctx context.Context, text string) (*classificationResult, error) {
	prompt := fmt.Sprintf("Text: %q\n\nClassify this as ACTION or KNOWLEDGE.", text)

	resp, err := c.client.GenerateResponse(ctx, prompt, classifierSystemPrompt, 0.1)
	if err != nil {
		return nil, err
	}

	result, err := llm.ParseJSONResponse[classificationResult](resp.Content)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// forceSemantic applies the deterministic promotion rules: preference and
// terms vocabulary, or any recognized customer name, make the utterance a
// permanent semantic memory.
func forceSemantic(text string, customerNames []string) *ClassifiedMemory {
	lower := strings.ToLower(text)

	matched := ""
	for _, token := range forceSemanticTokens {
		if strings.Contains(lower, token) {
			matched = token
			break
		}
	}
	if matched == "" {
		for _, name := range customerNames {
			if name != "" && strings.Contains(lower, strings.ToLower(name)) {
				matched = name
				break
			}
		}
	}
	if matched == "" {
		return nil
	}

	return &ClassifiedMemory{
		Text:       text,
		Category:   CategoryKnowledge,
		Kind:       models.MemorySemantic,
		Importance: 0.9,
		TTLDays:    nil,
		Confidence: 1.0,
		Reasoning:  fmt.Sprintf("forced semantic: contains %q", matched),
	}
}

func ruleBasedClassify(text string) *classificationResult {
	lower := strings.ToLower(text)

	actionScore := 0
	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw) {
			actionScore++
		}
	}
	knowledgeScore := 0
	for _, kw := range knowledgeKeywords {
		if strings.Contains(lower, kw) {
			knowledgeScore++
		}
	}

	switch {
	case actionScore > knowledgeScore:
		ttl := models.DefaultEpisodicTTLDays
		return &classificationResult{
			Category:   string(CategoryAction),
			Kind:       string(models.MemoryEpisodic),
			Importance: 0.8,
			TTLDays:    &ttl,
			Reasoning:  fmt.Sprintf("rule-based: %d action keywords", actionScore),
			Confidence: 0.6,
		}
	case knowledgeScore > actionScore:
		return &classificationResult{
			Category:   string(CategoryKnowledge),
			Kind:       string(models.MemorySemantic),
			Importance: 0.9,
			TTLDays:    nil,
			Reasoning:  fmt.Sprintf("rule-based: %d knowledge keywords", knowledgeScore),
			Confidence: 0.6,
		}
	default:
		// Ties and no-signal messages are treated as short-lived actions.
		ttl := models.DefaultEpisodicTTLDays
		return &classificationResult{
			Category:   string(CategoryAction),
			Kind:       string(models.MemoryEpisodic),
			Importance: 0.7,
			TTLDays:    &ttl,
			Reasoning:  "rule-based: default action classification",
			Confidence: 0.5,
		}
	}
}

func toClassifiedMemory(text string, result *classificationResult) *ClassifiedMemory {
	category := MemoryCategory(strings.ToUpper(result.Category))
	switch category {
	case CategoryAction, CategoryKnowledge, CategoryStatus, CategoryPreference:
	default:
		category = CategoryAction
	}

	kind := models.MemoryKind(result.Kind)
	if !models.IsValidMemoryKind(kind) {
		kind = models.MemoryEpisodic
	}

	importance := result.Importance
	if importance < 0 {
		importance = 0
	} else if importance > 1 {
		importance = 1
	}

	ttl := result.TTLDays
	if ttl != nil && *ttl < 0 {
		ttl = nil
	}
	// Episodic memories decay; semantic memories persist until superseded.
	if kind == models.MemoryEpisodic && ttl == nil {
		days := models.DefaultEpisodicTTLDays
		ttl = &days
	}
	if kind == models.MemorySemantic {
		ttl = nil
	}

	return &ClassifiedMemory{
		Text:       text,
		Category:   category,
		Kind:       kind,
		Importance: importance,
		TTLDays:    ttl,
		Confidence: result.Confidence,
		Reasoning:  result.Reasoning,
	}
}

// ImplicitPreference derives a standing preference the user stated only in
// passing: rescheduling to a day implies preferring that day, mentioning NET
// terms implies payment terms.
func (c *memoryClassifier) ImplicitPreference(text string, customerNames []string) string {
	lower := strings.ToLower(text)

	customer := ""
	for _, name := range customerNames {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			customer = name
			break
		}
	}
	if customer == "" {
		return ""
	}

	if strings.Contains(lower, "reschedule") && strings.Contains(lower, "friday") {
		return fmt.Sprintf("%s prefers Friday; align WO scheduling accordingly.", customer)
	}
	if strings.Contains(lower, "prefer") && strings.Contains(lower, "friday") {
		return fmt.Sprintf("%s prefers Friday deliveries for all shipments.", customer)
	}
	if match := netTermsPattern.FindString(text); match != "" {
		return fmt.Sprintf("%s is %s; align payment terms accordingly.", customer, strings.ToUpper(match))
	}

	return ""
}
