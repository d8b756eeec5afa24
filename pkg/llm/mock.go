package llm

import (
	"context"
)

// MockLLMClient is a configurable mock for testing LLM functionality.
// Set the function fields to control behavior in tests.
type MockLLMClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, returns empty result and nil error.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GenerateChatFunc is called when GenerateChat is invoked.
	// If nil, falls back to GenerateResponseFunc with the last history entry.
	GenerateChatFunc func(ctx context.Context, systemMessage string, history []Message, temperature float64) (*GenerateResponseResult, error)

	// CreateEmbeddingFunc is called when CreateEmbedding is invoked.
	// If nil, returns nil slice and nil error.
	CreateEmbeddingFunc func(ctx context.Context, input string, model string) ([]float32, error)

	// CreateEmbeddingsFunc is called when CreateEmbeddings is invoked.
	// If nil, returns nil slice and nil error.
	CreateEmbeddingsFunc func(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Endpoint is returned by GetEndpoint. Defaults to "http://mock-endpoint".
	Endpoint string

	// Call tracking for verification
	GenerateResponseCalls int
	GenerateChatCalls     int
	CreateEmbeddingCalls  int
	CreateEmbeddingsCalls int
}

// NewMockLLMClient creates a new mock with sensible defaults.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model:    "mock-model",
		Endpoint: "http://mock-endpoint",
	}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	m.GenerateResponseCalls++
	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	return &GenerateResponseResult{}, nil
}

// GenerateChat implements LLMClient.
func (m *MockLLMClient) GenerateChat(ctx context.Context, systemMessage string, history []Message, temperature float64) (*GenerateResponseResult, error) {
	m.GenerateChatCalls++
	if m.GenerateChatFunc != nil {
		return m.GenerateChatFunc(ctx, systemMessage, history, temperature)
	}
	if m.GenerateResponseFunc != nil && len(history) > 0 {
		return m.GenerateResponseFunc(ctx, history[len(history)-1].Content, systemMessage, temperature)
	}
	return &GenerateResponseResult{}, nil
}

// CreateEmbedding implements LLMClient.
func (m *MockLLMClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	m.CreateEmbeddingCalls++
	if m.CreateEmbeddingFunc != nil {
		return m.CreateEmbeddingFunc(ctx, input, model)
	}
	return nil, nil
}

// CreateEmbeddings implements LLMClient.
func (m *MockLLMClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	m.CreateEmbeddingsCalls++
	if m.CreateEmbeddingsFunc != nil {
		return m.CreateEmbeddingsFunc(ctx, inputs, model)
	}
	return nil, nil
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockLLMClient) GetEndpoint() string {
	if m.Endpoint == "" {
		return "http://mock-endpoint"
	}
	return m.Endpoint
}

// Reset clears call tracking counters.
func (m *MockLLMClient) Reset() {
	m.GenerateResponseCalls = 0
	m.GenerateChatCalls = 0
	m.CreateEmbeddingCalls = 0
	m.CreateEmbeddingsCalls = 0
}

// Ensure MockLLMClient implements LLMClient at compile time.
var _ LLMClient = (*MockLLMClient)(nil)
