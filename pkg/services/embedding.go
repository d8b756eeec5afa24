package services

import (
	"context"
	"crypto/md5"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/llm"
	"github.com/contexthq/memory-engine/pkg/logging"
)

const (
	// EmbeddingDimensions is the fixed vector width for all stored embeddings.
	EmbeddingDimensions = 1536

	// embeddingBatchSize caps how many inputs go to the provider per request.
	embeddingBatchSize = 100
)

// EmbeddingService produces fixed-dimension vectors for text. Provider
// failures degrade to deterministic pseudo-vectors so retrieval keeps
// working, just with meaningless geometry.
type EmbeddingService interface {
	// EmbedText returns a 1536-dimension vector for the input. The boolean
	// reports whether the vector came from the real provider.
	EmbedText(ctx context.Context, text string) ([]float32, bool)

	// EmbedTexts embeds a batch, splitting provider requests at 100 inputs.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, bool)
}

type embeddingService struct {
	client llm.LLMClient
	model  string
	logger *zap.Logger
}

// NewEmbeddingService creates a new EmbeddingService over the given client.
func NewEmbeddingService(client llm.LLMClient, model string, logger *zap.Logger) EmbeddingService {
	return &embeddingService{
		client: client,
		model:  model,
		logger: logger.Named("embedding"),
	}
}

var _ EmbeddingService = (*embeddingService)(nil)

func (s *embeddingService) EmbedText(ctx context.Context, text string) ([]float32, bool) {
	vec, err := s.client.CreateEmbedding(ctx, text, s.model)
	if err != nil || len(vec) == 0 {
		s.logger.Warn("embedding provider failed, using pseudo-vector",
			zap.String("error", logging.SanitizeError(err)))
		return PseudoVector(text), false
	}
	return vec, true
}

func (s *embeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, bool) {
	if len(texts) == 0 {
		return nil, true
	}

	vectors := make([][]float32, 0, len(texts))
	fromProvider := true

	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := s.client.CreateEmbeddings(ctx, texts[start:end], s.model)
		if err != nil || len(batch) != end-start {
			s.logger.Warn("embedding batch failed, using pseudo-vectors",
				zap.Int("batch_start", start),
				zap.String("error", logging.SanitizeError(err)))
			fromProvider = false
			for _, t := range texts[start:end] {
				vectors = append(vectors, PseudoVector(t))
			}
			continue
		}
		vectors = append(vectors, batch...)
	}

	return vectors, fromProvider
}

// PseudoVector derives a deterministic 1536-dimension vector from the MD5
// hash of the text. Values fall in [-1, 1]. The same text always yields the
// same vector, so dedup and retrieval stay stable across the degraded path.
func PseudoVector(text string) []float32 {
	sum := md5.Sum([]byte(text))
	hashInt := binary.BigEndian.Uint64(sum[:8])

	vec := make([]float32, EmbeddingDimensions)
	for i := range vec {
		seed := (hashInt + uint64(i)) % 1000000
		vec[i] = float32((float64(seed)/1000000.0 - 0.5) * 2)
	}
	return vec
}
