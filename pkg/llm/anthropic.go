package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides chat completions through the Anthropic Messages
// API. Anthropic has no embedding endpoint, so embedding calls always fail;
// the factory pairs this client with an OpenAI embedding client.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// maxCompletionTokens bounds assistant replies. Matches the pipeline's
// short conversational responses.
const maxCompletionTokens = 1024

// NewAnthropicClient creates a new Anthropic-backed LLM client.
func NewAnthropicClient(apiKey, model string, logger *zap.Logger) (*AnthropicClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(apiKey),
		model:  model,
		logger: logger.Named("llm-anthropic"),
	}, nil
}

// GenerateResponse generates a completion for a single prompt.
func (c *AnthropicClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (*GenerateResponseResult, error) {
	return c.GenerateChat(ctx, systemMessage, []Message{{Role: "user", Content: prompt}}, temperature)
}

// GenerateChat generates a completion for a system prompt plus history.
func (c *AnthropicClient) GenerateChat(
	ctx context.Context,
	systemMessage string,
	history []Message,
	temperature float64,
) (*GenerateResponseResult, error) {
	messages := make([]anthropic.Message, 0, len(history))
	for _, m := range history {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
		} else {
			messages = append(messages, anthropic.NewUserTextMessage(m.Content))
		}
	}

	temp := float32(temperature)

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("messages", len(messages)),
		zap.Float64("temperature", temperature))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		Messages:    messages,
		MaxTokens:   maxCompletionTokens,
		Temperature: &temp,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	elapsed := time.Since(start)
	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", elapsed))

	return &GenerateResponseResult{
		Content:          resp.Content[0].GetText(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// CreateEmbedding is unsupported on Anthropic endpoints.
func (c *AnthropicClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	return nil, NewError(ErrorTypeEndpoint, "anthropic does not provide an embedding endpoint", false, nil)
}

// CreateEmbeddings is unsupported on Anthropic endpoints.
func (c *AnthropicClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	return nil, NewError(ErrorTypeEndpoint, "anthropic does not provide an embedding endpoint", false, nil)
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *AnthropicClient) GetEndpoint() string {
	return "https://api.anthropic.com/v1"
}
