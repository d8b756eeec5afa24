// Package llm provides chat-completion and embedding clients for the
// pipeline's providers (OpenAI-compatible endpoints and Anthropic).
package llm

import (
	"context"
)

// Message is a single turn in a chat history, provider-agnostic.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// GenerateResponseResult holds a completion plus usage stats.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient defines the interface for LLM operations.
// Combines generative (chat completion) and embedding capabilities.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse generates a completion for a single prompt.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GenerateChat generates a completion for a system prompt plus message
	// history. The history is in chronological order; the last entry is the
	// current user message.
	GenerateChat(ctx context.Context, systemMessage string, history []Message, temperature float64) (*GenerateResponseResult, error)

	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs.
	CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure implementations satisfy LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
