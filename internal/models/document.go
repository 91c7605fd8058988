// Package models defines core data structures for documents, chunks, queries, and conversation turns.
package models

import "time"

// Document is the logical grouping of the chunks ingested under one document id.
type Document struct {
	ID         string                 `json:"id" db:"id"`
	Source     string                 `json:"source,omitempty" db:"source"`
	ChunkCount int                    `json:"chunk_count" db:"chunk_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
}

// Chunk is a contiguous slice of a document, the unit of embedding and retrieval.
// Chunks are immutable once stored; re-ingesting a document replaces its whole set.
type Chunk struct {
	ID         string                 `json:"id" db:"id"`
	DocumentID string                 `json:"document_id" db:"document_id"`
	Index      int                    `json:"chunk_index" db:"chunk_index"`
	Text       string                 `json:"text" db:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// Metadata keys attached to every chunk.
const (
	MetaDocID      = "doc_id"
	MetaChunkIndex = "chunk_index"
	MetaSource     = "source"
)

// IngestRequest describes a document to ingest. Text wins over Path when both are set.
type IngestRequest struct {
	DocID    string                 `json:"doc_id,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Path     string                 `json:"path,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IngestResponse reports the outcome of an ingestion.
type IngestResponse struct {
	DocID  string `json:"doc_id"`
	Chunks int    `json:"chunks"`
}
