package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/dalil/internal/chat"
	"github.com/hyperjump/dalil/internal/chunker"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/index"
	"github.com/hyperjump/dalil/internal/memory"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/retriever"
	"go.uber.org/zap"
)

type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(context.Context, []models.Message) (string, error) {
	return s.reply, s.err
}

type testEnv struct {
	handler   http.Handler
	memory    *memory.SQLiteMemory
	index     *index.Store
	completer *stubCompleter
	dir       string
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Embedding.Provider = config.ProviderHashing
	cfg.Storage.IndexDir = filepath.Join(dir, "index")
	cfg.Storage.MemoryPath = filepath.Join(dir, "db", "chatbot.db")
	cfg.Source.Path = filepath.Join(dir, "store_manual.txt")
	config.ApplyDefaults(cfg)
	cfg.Server.RateLimit.RequestsPerSecond = 0
	if mutate != nil {
		mutate(cfg)
	}

	store, err := index.Open(ctx, index.Options{Dir: cfg.Storage.IndexDir, Collection: cfg.Storage.Collection},
		embedding.NewHashingEmbedder(cfg.Embedding.Dimensions))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mem, err := memory.Open(ctx, cfg.Storage.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	ch, err := chunker.NewChunker(200, 40, chunker.UnitChars, 100)
	if err != nil {
		t.Fatal(err)
	}
	ret := retriever.New(store, ch)
	comp := &stubCompleter{reply: "الضمان سنتان."}
	orch := chat.NewOrchestrator(ret, mem, comp)

	srv := NewServer(Deps{Chat: orch, Retrieval: ret, Memory: mem, Index: store, Config: cfg}, zap.NewNop())
	return &testEnv{handler: srv.Handler(), memory: mem, index: store, completer: comp, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decodeReply(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out models.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Reply
}

func TestHandleChat(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/chat", models.ChatRequest{SessionID: "s1", Message: "كم مدة الضمان؟"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decodeReply(t, w); got != "الضمان سنتان." {
		t.Errorf("reply = %q", got)
	}
	n, _ := env.memory.Count(context.Background(), "s1")
	if n != 2 {
		t.Errorf("stored turns = %d, want 2", n)
	}
}

func TestHandleChat_Clarifications(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		req  models.ChatRequest
		want string
	}{
		{"missing session", models.ChatRequest{Message: "hello"}, chat.ReplyMissingSession},
		{"empty message", models.ChatRequest{SessionID: "s1", Message: "  "}, chat.ReplyEmptyMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/chat", tt.req)
			if w.Code != http.StatusOK {
				t.Fatalf("status: got %d", w.Code)
			}
			if got := decodeReply(t, w); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
	if n, _ := env.memory.CountAll(context.Background()); n != 0 {
		t.Errorf("clarifications should not be stored, got %d turns", n)
	}
}

func TestHandleChat_BadRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/chat", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleChat_CompletionFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.completer.err = errors.New("upstream down")
	w := env.do(t, http.MethodPost, "/chat", models.ChatRequest{SessionID: "s1", Message: "hi"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decodeReply(t, w); got != chat.ReplyUnavailable {
		t.Errorf("reply = %q", got)
	}
}

func TestHandleChat_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.RateLimit.RequestsPerSecond = 0.001
		c.Server.RateLimit.Burst = 1
	})
	req := models.ChatRequest{SessionID: "s1", Message: "hi"}
	if w := env.do(t, http.MethodPost, "/chat", req); w.Code != http.StatusOK {
		t.Fatalf("first request status: got %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/chat", req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status: got %d", w.Code)
	}
	if got := decodeReply(t, w); got != chat.ReplyUnavailable {
		t.Errorf("reply = %q", got)
	}
	if w := env.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health should not be rate limited, got %d", w.Code)
	}
}

func TestHandleIngestAndQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/v1/ingest", models.IngestRequest{
		DocID: "manual",
		Text:  "The refrigerator warranty lasts two years. Delivery takes three days.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status: got %d body=%s", w.Code, w.Body.String())
	}
	var ing models.IngestResponse
	_ = json.NewDecoder(w.Body).Decode(&ing)
	if ing.DocID != "manual" || ing.Chunks != 1 {
		t.Errorf("ingest response = %+v", ing)
	}

	w = env.do(t, http.MethodPost, "/api/v1/query", models.Query{Query: "refrigerator warranty", TopK: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("query status: got %d", w.Code)
	}
	var resp models.QueryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].ID != "manual_0" {
		t.Errorf("query response = %+v", resp)
	}
	if resp.Results[0].Metadata[models.MetaDocID] != "manual" {
		t.Errorf("metadata = %v", resp.Results[0].Metadata)
	}
}

func TestHandleIngest_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("not store content"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(env.dir, "linked.txt")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"malformed", "{", http.StatusBadRequest},
		{"nothing to ingest", models.IngestRequest{DocID: "x"}, http.StatusBadRequest},
		{"missing file", models.IngestRequest{Path: filepath.Join(env.dir, "missing.txt")}, http.StatusNotFound},
		{"absolute path outside source dir", models.IngestRequest{Path: outside}, http.StatusForbidden},
		{"relative path escaping source dir", models.IngestRequest{Path: filepath.Join("..", filepath.Base(filepath.Dir(outside)), "secret.txt")}, http.StatusForbidden},
		{"symlink escaping source dir", models.IngestRequest{Path: link}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/api/v1/ingest", tt.body); w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandleIngest_RelativePathInSourceDir(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := os.WriteFile(filepath.Join(env.dir, "faq.txt"), []byte("Opening hours are nine to five."), 0600); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodPost, "/api/v1/ingest", models.IngestRequest{Path: "faq.txt", DocID: "faq"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d body=%s", w.Code, w.Body.String())
	}
	if env.index.Count() != 1 {
		t.Errorf("chunks = %d, want 1", env.index.Count())
	}
}

func TestHandleQuery_EmptyQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodPost, "/api/v1/query", models.Query{Query: " "}); w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleSessionMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, c := range []string{"A", "B", "C"} {
		_, _ = env.memory.Append(ctx, "s1", models.RoleUser, c)
	}
	_, _ = env.memory.Append(ctx, "s2", models.RoleUser, "other")

	w := env.do(t, http.MethodGet, "/api/v1/sessions/s1/messages?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		SessionID string        `json:"session_id"`
		Messages  []models.Turn `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Messages) != 2 || out.Messages[0].Content != "B" || out.Messages[1].Content != "C" {
		t.Errorf("messages = %+v", out.Messages)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/sessions/s1/messages?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status: got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	path := filepath.Join(env.dir, "store_manual.txt")
	if err := os.WriteFile(path, []byte("Opening hours are nine to five."), 0600); err != nil {
		t.Fatal(err)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/ingest", models.IngestRequest{Path: path, DocID: "store_manual"}); w.Code != http.StatusCreated {
		t.Fatalf("ingest status: got %d", w.Code)
	}
	_, _ = env.memory.Append(ctx, "s1", models.RoleUser, "hi")

	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var st Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Chunks != 1 || st.Turns != 1 || len(st.Documents) != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.Documents[0].Source != path {
		t.Errorf("document source = %q", st.Documents[0].Source)
	}
	if st.DiskUsageBytes <= 0 {
		t.Errorf("disk usage should be positive, got %d", st.DiskUsageBytes)
	}
	if st.Config["embedding_provider"] != config.ProviderHashing {
		t.Errorf("config = %v", st.Config)
	}
	if !strings.HasSuffix(st.Config["index_dir"].(string), "store_docs") {
		t.Errorf("index_dir = %v", st.Config["index_dir"])
	}
}
