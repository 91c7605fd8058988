// Package storage persists documents and their chunks.
package storage

import (
	"context"

	"github.com/hyperjump/dalil/internal/models"
)

// ChunkStore defines document and chunk persistence operations.
type ChunkStore interface {
	// ReplaceDocument atomically replaces every chunk of doc.ID with chunks.
	// An empty chunks slice removes the document.
	ReplaceDocument(ctx context.Context, doc *models.Document, chunks []models.Chunk) error
	DeleteDocument(ctx context.Context, id string) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]*models.Document, error)

	// ListChunks returns every stored chunk ordered by document and position.
	ListChunks(ctx context.Context) ([]models.Chunk, error)
	GetChunks(ctx context.Context, ids []string) (map[string]models.Chunk, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
