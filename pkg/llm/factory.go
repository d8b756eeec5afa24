package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/config"
)

// Clients bundles the chat client and the embedding client. They may be the
// same client (OpenAI) or different ones (Anthropic chat + OpenAI embeddings).
type Clients struct {
	Chat      LLMClient
	Embedding LLMClient
}

// NewClients builds provider clients from configuration.
// Embeddings always go through the OpenAI-compatible endpoint since Anthropic
// does not serve them.
func NewClients(cfg *config.LLMConfig, logger *zap.Logger) (*Clients, error) {
	embedding, err := NewClient(&Config{
		Endpoint: cfg.OpenAIBaseURL,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.OpenAIAPIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	switch cfg.Provider {
	case "openai":
		chat, err := NewClient(&Config{
			Endpoint: cfg.OpenAIBaseURL,
			Model:    cfg.OpenAIModel,
			APIKey:   cfg.OpenAIAPIKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create chat client: %w", err)
		}
		return &Clients{Chat: chat, Embedding: embedding}, nil

	case "anthropic":
		chat, err := NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return &Clients{Chat: chat, Embedding: embedding}, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
