package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/dalil/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// OpenSQLite opens or creates a SQLite database at dbPath in WAL mode.
// Parent directories are created if they do not exist. synchronous is the
// PRAGMA synchronous level (NORMAL, FULL); empty leaves the driver default.
func OpenSQLite(dbPath, synchronous string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := "file:" + dbPath + "?_busy_timeout=5000"
	if synchronous != "" {
		dsn += "&_synchronous=" + synchronous
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	return db, nil
}

// SQLiteChunkStore implements ChunkStore using SQLite.
type SQLiteChunkStore struct {
	db *sql.DB
}

// NewSQLiteChunkStore opens or creates the chunk database at dbPath and initializes the schema.
func NewSQLiteChunkStore(dbPath string) (*SQLiteChunkStore, error) {
	db, err := OpenSQLite(dbPath, "NORMAL")
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteChunkStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON document_chunks(document_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplaceDocument deletes the document's previous chunks and inserts the new set in one transaction.
func (s *SQLiteChunkStore) ReplaceDocument(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}
	if len(chunks) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, doc.ID); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return tx.Commit()
	}

	docMeta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	doc.ChunkCount = len(chunks)
	doc.UpdatedAt = time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, source, chunk_count, metadata, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET source = excluded.source, chunk_count = excluded.chunk_count,
		 metadata = excluded.metadata, updated_at = excluded.updated_at`,
		doc.ID, doc.Source, doc.ChunkCount, docMeta, doc.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, document_id, chunk_index, content, metadata) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, c.ID, doc.ID, c.Index, c.Text, meta); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteDocument removes a document and its chunks. Unknown ids are not an error.
func (s *SQLiteChunkStore) DeleteDocument(ctx context.Context, id string) error {
	return s.ReplaceDocument(ctx, &models.Document{ID: id}, nil)
}

// GetDocument returns a document by ID.
func (s *SQLiteChunkStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, chunk_count, metadata, updated_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

// ListDocuments returns all documents ordered by id.
func (s *SQLiteChunkStore) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, chunk_count, metadata, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var source, metadataJSON sql.NullString
	if err := row.Scan(&doc.ID, &source, &doc.ChunkCount, &metadataJSON, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Source = source.String
	meta, err := unmarshalMetadata(metadataJSON.String)
	if err != nil {
		return nil, err
	}
	doc.Metadata = meta
	return &doc, nil
}

// ListChunks returns all chunks ordered by document id and chunk index.
func (s *SQLiteChunkStore) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, metadata FROM document_chunks
		 ORDER BY document_id, chunk_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunks returns the chunks with the given ids keyed by id. Missing ids are absent from the map.
func (s *SQLiteChunkStore) GetChunks(ctx context.Context, ids []string) (map[string]models.Chunk, error) {
	out := make(map[string]models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, metadata FROM document_chunks WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		out[c.ID] = c
	}
	return out, nil
}

func scanChunks(rows *sql.Rows) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var metadataJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &metadataJSON); err != nil {
			return nil, err
		}
		meta, err := unmarshalMetadata(metadataJSON.String)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		c.Metadata = meta
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteChunkStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteChunkStore) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteChunkStore) Close() error {
	return s.db.Close()
}

func marshalMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}
