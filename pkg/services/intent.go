package services

import (
	"strings"
)

// ChatMode is the result of intent triage.
type ChatMode string

const (
	// ModeSimple answers greetings and small talk without retrieval.
	ModeSimple ChatMode = "simple"
	// ModeFull runs the whole pipeline: entities, retrieval, memory.
	ModeFull ChatMode = "full"
)

// generalPatterns mark small talk that needs no business context.
var generalPatterns = []string{
	"how are you", "hello", "hi", "thanks", "thank you",
	"good morning", "good afternoon", "good evening",
	"what is the weather", "what time is it",
	"bye", "goodbye", "see you", "take care", "have a good day",
}

// businessKeywords flip a message into full mode.
var businessKeywords = []string{
	"customer", "order", "invoice", "payment", "work order", "task",
	"kai media", "tc boiler",
	"so-", "inv-", "wo-",
	"draft", "send", "reschedule", "create", "update", "complete",
	"prefer", "like", "remember", "policy", "rule",
	"status", "delivery", "schedule", "due", "amount", "balance",
	"agreed", "terms", "net15", "ach", "rush", "monthly", "plan",
}

// forceFullTokens override the simple path even inside a greeting.
var forceFullTokens = []string{
	"tc boiler", "kai media", "net15", "payment terms", "prefer", "agreed", "remember:",
}

// IntentTriage classifies a message as simple small talk or a full business
// query.
type IntentTriage struct{}

// NewIntentTriage creates a new IntentTriage.
func NewIntentTriage() *IntentTriage {
	return &IntentTriage{}
}

// Classify decides the pipeline mode for a message.
func (t *IntentTriage) Classify(message string) ChatMode {
	lower := strings.ToLower(strings.TrimSpace(message))

	for _, token := range forceFullTokens {
		if strings.Contains(lower, token) {
			return ModeFull
		}
	}

	for _, kw := range businessKeywords {
		if strings.Contains(lower, kw) {
			return ModeFull
		}
	}

	for _, pattern := range generalPatterns {
		if strings.Contains(lower, pattern) {
			return ModeSimple
		}
	}

	// Unrecognized messages get the full pipeline; retrieval on an empty
	// context is harmless, a missed business query is not.
	return ModeFull
}
