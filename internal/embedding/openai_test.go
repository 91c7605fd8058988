package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
	return &client
}

// embeddingsHandler answers with data in reverse order so callers must honor the index field.
func embeddingsHandler(t *testing.T, requests *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		*requests++
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var data []string
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,1,0]}`, i, len(body.Input[i])))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","model":%q,"data":[%s],"usage":{"prompt_tokens":1,"total_tokens":1}}`,
			body.Model, strings.Join(data, ","))
	}
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var requests int
	client := newTestClient(t, embeddingsHandler(t, &requests))
	e, err := NewOpenAIEmbedder(client, "test-embedding", 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3 batches of at most 2", requests)
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d = %v, out of order", i, v)
		}
	}
	one, err := e.Embed(context.Background(), "xyz")
	if err != nil {
		t.Fatal(err)
	}
	if one[0] != 3 {
		t.Errorf("Embed = %v", one)
	}
}

func TestOpenAIEmbedder_dimensionMismatch(t *testing.T) {
	var requests int
	client := newTestClient(t, embeddingsHandler(t, &requests))
	e, _ := NewOpenAIEmbedder(client, "test-embedding", 8, 10)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestOpenAIEmbedder_upstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})
	e, _ := NewOpenAIEmbedder(client, "test-embedding", 3, 10)
	_, err := e.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "failed to create embeddings") {
		t.Errorf("expected wrapped upstream error, got %v", err)
	}
}

func TestNewOpenAIEmbedder_validation(t *testing.T) {
	if _, err := NewOpenAIEmbedder(nil, "", 3, 1); err == nil {
		t.Error("empty model should be rejected")
	}
	if _, err := NewOpenAIEmbedder(nil, "m", 0, 1); err == nil {
		t.Error("zero dimensions should be rejected")
	}
}
