// Package vector provides vector indexes and similarity search.
package vector

import "context"

// VectorIndex defines vector storage and nearest-neighbor search.
type VectorIndex interface {
	// Add inserts vectors under ids, replacing any existing vector with the same id.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k ids ordered by ascending distance to query.
	// When accept is non-nil only ids it returns true for are considered.
	Search(ctx context.Context, query []float32, k int, accept func(id string) bool) ([]*VectorResult, error)
	// Remove deletes ids; unknown ids are ignored.
	Remove(ctx context.Context, ids []string) error
	Has(id string) bool
	IDs() []string
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// VectorResult is a single search hit; ID is a chunk id.
type VectorResult struct {
	ID       string
	Distance float64 // cosine distance in [0, 2]; 0 means same direction
}
