package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/dalil/internal/models"
)

func chunksFor(docID string, texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, text := range texts {
		out[i] = models.Chunk{
			ID:         docID + "_" + string(rune('0'+i)),
			DocumentID: docID,
			Index:      i,
			Text:       text,
			Metadata:   map[string]interface{}{models.MetaDocID: docID, models.MetaChunkIndex: i},
		}
	}
	return out
}

func TestSQLiteChunkStore_ReplaceDocument(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteChunkStore(filepath.Join(dir, "sub", "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	doc := &models.Document{ID: "manual", Source: "manual.txt", Metadata: map[string]interface{}{"lang": "ar"}}
	if err := store.ReplaceDocument(ctx, doc, chunksFor("manual", "a", "b", "c")); err != nil {
		t.Fatal(err)
	}
	if doc.ChunkCount != 3 || doc.UpdatedAt.IsZero() {
		t.Errorf("document not updated: %+v", doc)
	}

	if err := store.ReplaceDocument(ctx, &models.Document{ID: "manual"}, chunksFor("manual", "x")); err != nil {
		t.Fatal(err)
	}
	n, _ := store.CountChunks(ctx)
	if n != 1 {
		t.Fatalf("CountChunks = %d, want 1 after replace", n)
	}
	chunks, err := store.ListChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Text != "x" || chunks[0].Metadata[models.MetaDocID] != "manual" {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}

	got, err := store.GetDocument(ctx, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if got.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", got.ChunkCount)
	}
}

func TestSQLiteChunkStore_Isolation(t *testing.T) {
	store, err := NewSQLiteChunkStore(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	_ = store.ReplaceDocument(ctx, &models.Document{ID: "a"}, chunksFor("a", "a0", "a1"))
	_ = store.ReplaceDocument(ctx, &models.Document{ID: "b"}, chunksFor("b", "b0"))
	_ = store.ReplaceDocument(ctx, &models.Document{ID: "a"}, chunksFor("a", "a0'"))

	chunks, _ := store.ListChunks(ctx)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].DocumentID != "b" || chunks[1].Text != "b0" {
		t.Errorf("other document changed: %+v", chunks[1])
	}

	docs, _ := store.ListDocuments(ctx)
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "b" {
		t.Errorf("ListDocuments = %v", docs)
	}

	byID, err := store.GetChunks(ctx, []string{"b_0", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 1 || byID["b_0"].Text != "b0" {
		t.Errorf("GetChunks = %v", byID)
	}
}

func TestSQLiteChunkStore_EmptyReplaceDeletes(t *testing.T) {
	store, err := NewSQLiteChunkStore(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	_ = store.ReplaceDocument(ctx, &models.Document{ID: "a"}, chunksFor("a", "a0"))
	if err := store.ReplaceDocument(ctx, &models.Document{ID: "a"}, nil); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountDocuments(ctx); n != 0 {
		t.Errorf("CountDocuments = %d, want 0", n)
	}
	if _, err := store.GetDocument(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteDocument(ctx, "never-existed"); err != nil {
		t.Errorf("DeleteDocument unknown id: %v", err)
	}
}

func TestSQLiteChunkStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	ctx := context.Background()
	store, err := NewSQLiteChunkStore(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.ReplaceDocument(ctx, &models.Document{ID: "a"}, chunksFor("a", "a0", "a1"))
	_ = store.Close()

	store, err = NewSQLiteChunkStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if n, _ := store.CountChunks(ctx); n != 2 {
		t.Errorf("CountChunks after reopen = %d, want 2", n)
	}
}
