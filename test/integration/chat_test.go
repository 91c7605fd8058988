// Package integration provides end-to-end tests over the HTTP surface (real storage and indices).
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/chat"
	"github.com/hyperjump/dalil/internal/chunker"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/index"
	"github.com/hyperjump/dalil/internal/llm"
	"github.com/hyperjump/dalil/internal/memory"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/retriever"
	"github.com/hyperjump/dalil/internal/server"
)

const manual = `Standard shipping inside the city takes two days. Other regions need up to five working days.

Every appliance carries a two year warranty against manufacturing defects.

Unused items can be returned within fourteen days with the receipt.`

// completionAPI answers chat completions; it fails while failing is set.
func completionAPI(t *testing.T, failing *atomic.Bool) string {
	t.Helper()
	var n atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		id := n.Add(1)
		fmt.Fprintf(w, `{"id":"c%d","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"answer %d"}}]}`, id, id)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

type stack struct {
	cfg    *config.Config
	index  *index.Store
	memory *memory.SQLiteMemory
	server *httptest.Server
}

func openStack(t *testing.T, dir, apiURL string) *stack {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{
		Embedding: config.EmbeddingConfig{Provider: config.ProviderHashing, Dimensions: 256},
		OpenAI:    config.OpenAIConfig{APIKey: "test-key", BaseURL: apiURL, TimeoutSeconds: 5},
	}
	config.ApplyDefaults(cfg)
	cfg.OpenAI.MaxRetries = 0
	cfg.Storage.IndexDir = filepath.Join(dir, "index")
	cfg.Storage.MemoryPath = filepath.Join(dir, "db", "chatbot.db")
	cfg.Source.Path = filepath.Join(dir, "store_manual.txt")
	cfg.Server.RateLimit.RequestsPerSecond = 0

	idx, err := index.Open(ctx, index.Options{Dir: cfg.Storage.IndexDir, Collection: cfg.Storage.Collection},
		embedding.NewHashingEmbedder(cfg.Embedding.Dimensions))
	if err != nil {
		t.Fatal(err)
	}
	mem, err := memory.Open(ctx, cfg.Storage.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := chunker.NewChunker(cfg.Chunking.Size, cfg.Chunking.OverlapOrDefault(), chunker.Unit(cfg.Chunking.Unit), cfg.Chunking.SentenceLookbackOrDefault())
	if err != nil {
		t.Fatal(err)
	}
	ret := retriever.New(idx, ch)
	completer, err := llm.NewOpenAICompleter(llm.NewOpenAIClient(cfg.OpenAI), cfg.Chat.Model)
	if err != nil {
		t.Fatal(err)
	}
	orch := chat.NewOrchestrator(ret, mem, completer, chat.WithTopK(cfg.Chat.TopK), chat.WithHistoryLimit(cfg.Chat.HistoryLimit))
	srv := server.NewServer(server.Deps{Chat: orch, Retrieval: ret, Memory: mem, Index: idx, Config: cfg}, zap.NewNop())
	return &stack{cfg: cfg, index: idx, memory: mem, server: httptest.NewServer(srv.Handler())}
}

func (s *stack) close() {
	s.server.Close()
	_ = s.memory.Close()
	_ = s.index.Close()
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestIntegration_ChatOverHTTP(t *testing.T) {
	dir := t.TempDir()
	var failing atomic.Bool
	apiURL := completionAPI(t, &failing)

	s := openStack(t, dir, apiURL)
	if err := os.WriteFile(s.cfg.Source.Path, []byte(manual), 0600); err != nil {
		t.Fatal(err)
	}

	var ingest models.IngestResponse
	if code := postJSON(t, s.server.URL+"/api/v1/ingest", models.IngestRequest{DocID: "store_manual", Path: s.cfg.Source.Path}, &ingest); code != http.StatusCreated {
		t.Fatalf("ingest status = %d", code)
	}
	if ingest.DocID != "store_manual" || ingest.Chunks < 1 {
		t.Fatalf("unexpected ingest response: %+v", ingest)
	}

	var reply models.ChatResponse
	if code := postJSON(t, s.server.URL+"/chat", models.ChatRequest{SessionID: "web-1", Message: "how long is the warranty?"}, &reply); code != http.StatusOK {
		t.Fatalf("chat status = %d", code)
	}
	if reply.Reply != "answer 1" {
		t.Errorf("reply = %q, want answer 1", reply.Reply)
	}

	failing.Store(true)
	if code := postJSON(t, s.server.URL+"/chat", models.ChatRequest{SessionID: "web-1", Message: "and returns?"}, &reply); code != http.StatusServiceUnavailable {
		t.Fatalf("chat status while failing = %d", code)
	}
	if reply.Reply != chat.ReplyUnavailable {
		t.Errorf("reply while failing = %q", reply.Reply)
	}
	failing.Store(false)

	if code := postJSON(t, s.server.URL+"/chat", models.ChatRequest{SessionID: "  ", Message: "hello"}, &reply); code != http.StatusOK {
		t.Fatalf("blank session status = %d", code)
	}
	if reply.Reply != chat.ReplyMissingSession {
		t.Errorf("blank session reply = %q", reply.Reply)
	}
	s.close()

	// Everything survives a restart: the index answers without re-ingesting and the turn log
	// still holds the session, including the user turn whose completion failed.
	s = openStack(t, dir, apiURL)
	defer s.close()
	if s.index.Count() != ingest.Chunks {
		t.Errorf("chunks after restart = %d, want %d", s.index.Count(), ingest.Chunks)
	}
	resp, err := http.Get(s.server.URL + "/api/v1/sessions/web-1/messages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var history struct {
		Messages []models.Turn `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	want := []string{"user:how long is the warranty?", "assistant:answer 1", "user:and returns?"}
	if len(history.Messages) != len(want) {
		t.Fatalf("history = %+v, want %v", history.Messages, want)
	}
	for i, m := range history.Messages {
		if got := string(m.Role) + ":" + m.Content; got != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, got, want[i])
		}
	}
}
