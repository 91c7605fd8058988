// Package embedding provides text embedding functions (OpenAI, ONNX, offline hashing) and caching.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/dalil/internal/config"
	"github.com/openai/openai-go"
)

// Embedder produces vector embeddings for text. Implementations are deterministic for a given model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg, wrapped in an LRU cache when cfg.CacheSize > 0.
// client is only used by the openai provider.
func New(cfg config.EmbeddingConfig, client *openai.Client) (Embedder, error) {
	var base Embedder
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if client == nil {
			return nil, fmt.Errorf("openai embedding provider requires a client")
		}
		e, err := NewOpenAIEmbedder(client, cfg.Model, cfg.Dimensions, cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		base = e
	case config.ProviderONNX:
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		base = e
	case config.ProviderHashing:
		base = NewHashingEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return NewCachedEmbedder(base, cfg.CacheSize), nil
}
