package embedding

import (
	"context"
	"hash/fnv"

	"github.com/hyperjump/dalil/pkg/utils"
)

// HashingEmbedder is a deterministic offline embedder: each content token is hashed into one of
// dimensions buckets and the counts are L2-normalized. Texts that share words end up close, which
// is enough for tests and for running without network access.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder returns a hashing embedder with the given dimensions (default 512).
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &HashingEmbedder{dimensions: dimensions}
}

// Embed returns the normalized token-count vector of text. Text without content tokens maps to the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, tok := range ContentTokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		emb[h.Sum32()%uint32(e.dimensions)]++
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashingEmbedder.
func (e *HashingEmbedder) Close() error {
	return nil
}
