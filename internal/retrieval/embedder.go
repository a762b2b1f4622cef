package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"docchat/internal/ai"
)

// defaultProviderBatch caps how many texts are sent per provider call; many
// embedding APIs reject larger batches.
const defaultProviderBatch = 32

// APIEmbedder implements Embedder on top of the OpenAI-compatible client.
// When a batch call fails it degrades to one request per text, trading
// latency for resilience. If even the per-text fallback fails, the whole
// operation fails: no partial results are ever returned.
type APIEmbedder struct {
	client    *ai.OpenAICompatibleClient
	cfg       ai.EmbeddingConfig
	dimension int
	batchSize int
	log       *zap.Logger
}

func NewAPIEmbedder(client *ai.OpenAICompatibleClient, cfg ai.EmbeddingConfig, dimension, batchSize int, log *zap.Logger) *APIEmbedder {
	if batchSize <= 0 {
		batchSize = defaultProviderBatch
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &APIEmbedder{
		client:    client,
		cfg:       cfg,
		dimension: dimension,
		batchSize: batchSize,
		log:       log,
	}
}

func (e *APIEmbedder) Dimension() int { return e.dimension }

// EmbedBatch embeds texts in provider-sized batches and returns vectors
// positionally aligned with the input.
func (e *APIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		got, err := e.client.EmbedBatch(ctx, e.cfg, batch)
		if err != nil {
			e.log.Warn("batch embedding failed, falling back to per-text calls",
				zap.Int("batch_size", len(batch)), zap.Error(err))
			got, err = e.embedSequentially(ctx, batch)
			if err != nil {
				return nil, err
			}
		}
		vectors = append(vectors, got...)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrEmbeddingFailed, len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(v), e.dimension)
		}
	}
	return vectors, nil
}

func (e *APIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *APIEmbedder) embedSequentially(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, t := range texts {
		v, err := e.client.Embed(ctx, e.cfg, t)
		if err != nil {
			return nil, fmt.Errorf("%w: per-text fallback failed at input %d: %v", ErrEmbeddingFailed, i, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}
