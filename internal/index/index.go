// Package index provides the persistent, filterable vector index of document chunks.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hyperjump/dalil/internal/chunker"
	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/storage"
	"github.com/hyperjump/dalil/internal/vector"
	"go.uber.org/zap"
)

// ErrEmptyDocID is returned when an upsert names no document.
var ErrEmptyDocID = errors.New("document id cannot be empty")

const (
	chunksFile  = "chunks.db"
	vectorsFile = "vectors.bin"
)

// Options locates a collection on disk.
type Options struct {
	Dir        string
	Collection string
}

// Paths lists the files backing a collection.
type Paths struct {
	Dir      string `json:"dir"`
	Database string `json:"database"`
	Vectors  string `json:"vectors"`
}

// Store keeps chunk records in SQLite and their vectors in memory, snapshotted to disk after
// every change. Replacement happens under the write lock and search under the read lock, so a
// query sees either the old or the new chunk set of a document, never a mix.
type Store struct {
	mu        sync.RWMutex
	chunks    storage.ChunkStore
	vectors   *vector.MemoryIndex
	embedder  embedding.Embedder
	records   map[string]models.Chunk
	docChunks map[string][]string
	paths     Paths
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens or creates the collection and reconciles chunk records with the vector snapshot:
// records without a vector are re-embedded, vectors without a record are dropped.
func Open(ctx context.Context, opts Options, embedder embedding.Embedder, options ...Option) (*Store, error) {
	if strings.TrimSpace(opts.Collection) == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	dir := filepath.Join(opts.Dir, opts.Collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	s := &Store{
		embedder:  embedder,
		records:   make(map[string]models.Chunk),
		docChunks: make(map[string][]string),
		paths: Paths{
			Dir:      dir,
			Database: filepath.Join(dir, chunksFile),
			Vectors:  filepath.Join(dir, vectorsFile),
		},
		logger: zap.NewNop(),
	}
	for _, o := range options {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	chunks, err := storage.NewSQLiteChunkStore(s.paths.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}
	s.chunks = chunks

	vectors, err := vector.NewMemoryIndex(embedder.Dimensions())
	if err != nil {
		_ = chunks.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	if err := vectors.Load(s.paths.Vectors); err != nil {
		s.logger.Warn("discarding unreadable vector snapshot", zap.String("path", s.paths.Vectors), zap.Error(err))
		vectors, _ = vector.NewMemoryIndex(embedder.Dimensions())
	}
	s.vectors = vectors

	if err := s.repair(ctx); err != nil {
		_ = chunks.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) repair(ctx context.Context) error {
	all, err := s.chunks.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	var missingIDs, missingTexts []string
	for _, c := range all {
		s.records[c.ID] = c
		s.docChunks[c.DocumentID] = append(s.docChunks[c.DocumentID], c.ID)
		if !s.vectors.Has(c.ID) {
			missingIDs = append(missingIDs, c.ID)
			missingTexts = append(missingTexts, c.Text)
		}
	}
	var orphans []string
	for _, id := range s.vectors.IDs() {
		if _, ok := s.records[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(missingIDs) == 0 && len(orphans) == 0 {
		return nil
	}

	s.logger.Info("repairing vector index",
		zap.Int("missing", len(missingIDs)), zap.Int("orphans", len(orphans)))
	if len(orphans) > 0 {
		if err := s.vectors.Remove(ctx, orphans); err != nil {
			return fmt.Errorf("failed to drop orphan vectors: %w", err)
		}
	}
	if len(missingIDs) > 0 {
		embeddings, err := s.embedBatch(ctx, missingTexts)
		if err != nil {
			return err
		}
		if err := s.vectors.Add(ctx, missingIDs, embeddings); err != nil {
			return fmt.Errorf("failed to index vectors: %w", err)
		}
	}
	if err := s.vectors.Save(s.paths.Vectors); err != nil {
		return fmt.Errorf("failed to save vectors: %w", err)
	}
	return nil
}

func (s *Store) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("failed to embed chunks: got %d embeddings for %d texts", len(embeddings), len(texts))
	}
	return embeddings, nil
}

// Upsert replaces every chunk of docID with texts and returns the number of chunks stored.
// Chunk ids are "{docID}_{i}". Every chunk's metadata holds doc_id, chunk_index and meta.
// An empty texts slice removes the document.
func (s *Store) Upsert(ctx context.Context, docID string, texts []string, meta map[string]interface{}) (int, error) {
	if strings.TrimSpace(docID) == "" {
		return 0, ErrEmptyDocID
	}
	if len(texts) == 0 {
		if _, err := s.Delete(ctx, docID); err != nil {
			return 0, err
		}
		return 0, nil
	}

	chunks := chunker.Assemble(docID, texts, meta)
	embeddings, err := s.embedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	for _, e := range embeddings {
		if len(e) != s.vectors.Dimensions() {
			return 0, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(e), s.vectors.Dimensions())
		}
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	doc := &models.Document{ID: docID, Metadata: meta}
	if src, ok := meta[models.MetaSource].(string); ok {
		doc.Source = src
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.chunks.ReplaceDocument(ctx, doc, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	s.dropLocked(ctx, docID)
	if err := s.vectors.Add(ctx, ids, embeddings); err != nil {
		return 0, fmt.Errorf("failed to index vectors: %w", err)
	}
	for _, c := range chunks {
		s.records[c.ID] = c
	}
	s.docChunks[docID] = ids
	if err := s.vectors.Save(s.paths.Vectors); err != nil {
		return 0, fmt.Errorf("failed to save vectors: %w", err)
	}
	s.logger.Debug("document upserted", zap.String("doc_id", docID), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// dropLocked forgets the in-memory chunks and vectors of docID. The caller holds the write lock.
func (s *Store) dropLocked(ctx context.Context, docID string) int {
	old := s.docChunks[docID]
	if len(old) == 0 {
		return 0
	}
	_ = s.vectors.Remove(ctx, old)
	for _, id := range old {
		delete(s.records, id)
	}
	delete(s.docChunks, docID)
	return len(old)
}

// Delete removes every chunk of docID and returns how many were removed.
// Deleting an unknown document is a no-op.
func (s *Store) Delete(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.chunks.DeleteDocument(ctx, docID); err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}
	n := s.dropLocked(ctx, docID)
	if n == 0 {
		return 0, nil
	}
	if err := s.vectors.Save(s.paths.Vectors); err != nil {
		return n, fmt.Errorf("failed to save vectors: %w", err)
	}
	s.logger.Debug("document deleted", zap.String("doc_id", docID), zap.Int("chunks", n))
	return n, nil
}

// Query returns up to topK chunks nearest to text whose metadata matches every filter entry,
// ordered by ascending cosine distance. Blank text or topK <= 0 yields no results.
func (s *Store) Query(ctx context.Context, text string, topK int, filter map[string]interface{}) ([]*models.QueryResult, error) {
	results := []*models.QueryResult{}
	if strings.TrimSpace(text) == "" || topK <= 0 {
		return results, nil
	}
	q, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var accept func(string) bool
	if len(filter) > 0 {
		accept = func(id string) bool {
			return MatchFilter(s.records[id].Metadata, filter)
		}
	}
	hits, err := s.vectors.Search(ctx, q, topK, accept)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	for _, h := range hits {
		rec, ok := s.records[h.ID]
		if !ok {
			continue
		}
		results = append(results, &models.QueryResult{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: copyMetadata(rec.Metadata),
			Distance: h.Distance,
		})
	}
	return results, nil
}

// MatchFilter reports whether meta holds every key of filter with an equal value.
// Values are compared by their printed form so 2 and 2.0 (as decoded from JSON) match.
func MatchFilter(meta, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Count returns the number of stored chunks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Documents lists the stored documents.
func (s *Store) Documents(ctx context.Context) ([]*models.Document, error) {
	return s.chunks.ListDocuments(ctx)
}

// Dimensions returns the vector dimension of the collection.
func (s *Store) Dimensions() int {
	return s.vectors.Dimensions()
}

// Paths returns the files backing the collection.
func (s *Store) Paths() Paths {
	return s.paths
}

// Close closes the chunk database. The embedder is owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks.Close()
}
