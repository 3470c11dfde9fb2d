package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phucnt/kioku/pkg/provider/embeddings/ollama"
)

// embedServer serves /api/embed with canned vectors, truncated to the number
// of inputs in each request.
func embedServer(t *testing.T, wantModel string, vectors [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model = %q, want %q", req.Model, wantModel)
		}
		out := vectors
		if len(out) > len(req.Input) {
			out = out[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
}

func TestNewValidation(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("empty model accepted")
	}
	e, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.ModelID() != "nomic-embed-text" {
		t.Errorf("ModelID = %q", e.ModelID())
	}
}

func TestEmbed(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3}
	srv := embedServer(t, "nomic-embed-text", [][]float32{want})
	defer srv.Close()

	e, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmbedBatch(t *testing.T) {
	vecs := [][]float32{{0.1}, {0.2}, {0.3}}
	srv := embedServer(t, "all-minilm", vecs)
	defer srv.Close()

	e, err := ollama.New(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 3 || got[1][0] != 0.2 {
		t.Errorf("EmbedBatch = %v, want %v in order", got, vecs)
	}

	// Empty input must not touch the network; the URL is unreachable.
	e2, _ := ollama.New("http://127.0.0.1:19999", "all-minilm")
	if out, err := e2.EmbedBatch(context.Background(), nil); err != nil || out != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", out, err)
	}
}

func TestDimensions(t *testing.T) {
	known := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tt := range known {
		e, err := ollama.New("http://127.0.0.1:19999", tt.model)
		if err != nil {
			t.Fatalf("New(%s): %v", tt.model, err)
		}
		if got := e.Dimensions(); got != tt.want {
			t.Errorf("Dimensions(%s) = %d, want %d", tt.model, got, tt.want)
		}
	}

	e, err := ollama.New("http://127.0.0.1:19999", "custom-model", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := e.Dimensions(); got != 256 {
		t.Errorf("pinned Dimensions = %d, want 256", got)
	}
}

func TestDimensionsProbeOnce(t *testing.T) {
	const dim = 512
	probe := make([]float32, dim)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{probe}})
	}))
	defer srv.Close()

	e, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 3 {
		if got := e.Dimensions(); got != dim {
			t.Errorf("Dimensions = %d, want %d", got, dim)
		}
	}
	if calls != 1 {
		t.Errorf("probe requests = %d, want 1", calls)
	}
}

func TestEmbedErrors(t *testing.T) {
	down, err := ollama.New("http://127.0.0.1:19999", "nomic-embed-text",
		ollama.WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := down.Embed(context.Background(), "hello"); err == nil {
		t.Error("unreachable server: want error")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	e, _ := ollama.New(bad.URL, "nomic-embed-text")
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Error("500 response: want error")
	}

	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not-json"))
	}))
	defer garbled.Close()
	e2, _ := ollama.New(garbled.URL, "nomic-embed-text")
	if _, err := e2.Embed(context.Background(), "hello"); err == nil {
		t.Error("malformed body: want error")
	}
}
