// Package retriever ingests store documents into the index and assembles retrieval context.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/dalil/internal/chunker"
	"github.com/hyperjump/dalil/internal/extract"
	"github.com/hyperjump/dalil/internal/fileid"
	"github.com/hyperjump/dalil/internal/models"
	"go.uber.org/zap"
)

// ContextSeparator joins retrieved chunk texts.
const ContextSeparator = "\n\n---\n\n"

// Index is the chunk store the retriever writes to and searches.
type Index interface {
	Upsert(ctx context.Context, docID string, texts []string, meta map[string]interface{}) (int, error)
	Query(ctx context.Context, text string, topK int, filter map[string]interface{}) ([]*models.QueryResult, error)
}

// Retriever chunks documents into an Index and turns queries into context text.
type Retriever struct {
	index     Index
	chunker   *chunker.Chunker
	extractor *extract.Extractor
	logger    *zap.Logger // optional; when set, logs debug events
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithExtractor replaces the default file extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(r *Retriever) { r.extractor = e }
}

// New creates a retriever over index using ch to split documents.
func New(index Index, ch *chunker.Chunker, opts ...Option) *Retriever {
	r := &Retriever{
		index:     index,
		chunker:   ch,
		extractor: extract.NewExtractor(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest chunks and indexes one document, replacing any chunks previously stored under its id.
// Text is used when set; otherwise the file at Path is read. The default id is derived from
// the path, or random for inline text. An empty document stores nothing and returns 0 chunks.
func (r *Retriever) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error) {
	meta := make(map[string]interface{}, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}

	text := req.Text
	docID := strings.TrimSpace(req.DocID)
	switch {
	case text != "":
		if docID == "" {
			docID = uuid.New().String()
		}
	case req.Path != "":
		content, err := r.readFile(req.Path)
		if err != nil {
			return nil, err
		}
		text = content
		if docID == "" {
			docID = fileid.ForPath(req.Path)
		}
		meta[models.MetaSource] = req.Path
	default:
		return nil, fmt.Errorf("either text or path is required")
	}

	texts := r.chunker.Chunk(chunker.Normalize(text))
	n, err := r.index.Upsert(ctx, docID, texts, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to index document %s: %w", docID, err)
	}
	if r.logger != nil {
		r.logger.Debug("document ingested", zap.String("doc_id", docID), zap.Int("chunks", n))
	}
	return &models.IngestResponse{DocID: docID, Chunks: n}, nil
}

func (r *Retriever) readFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file not found: %s: %w", path, fs.ErrNotExist)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	content, err := r.extractor.Extract(path)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", path, err)
	}
	return content, nil
}

// Query returns the ranked chunks for query.
func (r *Retriever) Query(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]*models.QueryResult, error) {
	return r.index.Query(ctx, query, topK, filter)
}

// RetrieveContext returns the texts of the topK chunks nearest to query, most relevant first,
// joined by ContextSeparator. No results yields "".
func (r *Retriever) RetrieveContext(ctx context.Context, query string, topK int) (string, error) {
	results, err := r.index.Query(ctx, query, topK, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query index: %w", err)
	}
	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Text
	}
	if r.logger != nil {
		r.logger.Debug("context retrieved", zap.Int("chunks", len(texts)))
	}
	return strings.Join(texts, ContextSeparator), nil
}
