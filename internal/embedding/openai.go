package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
}

// NewOpenAIEmbedder creates an embedder for model. dimensions is the expected vector length;
// text-embedding-3 models are asked for exactly that many dimensions.
func NewOpenAIEmbedder(client *openai.Client, model string, dimensions, batchSize int) (*OpenAIEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OpenAIEmbedder{client: client, model: model, dimensions: dimensions, batchSize: batchSize}, nil
}

// Embed returns the embedding of a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in requests of at most batchSize inputs, keeping input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := e.embedRange(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedRange(ctx context.Context, texts []string, out [][]float32) error {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(texts) {
			return fmt.Errorf("embedding index %d out of range", i)
		}
		if len(d.Embedding) != e.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(d.Embedding), e.dimensions)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the client is shared and owned by the caller.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
