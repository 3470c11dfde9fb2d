// Package ollama provides an [embeddings.Embedder] backed by a local Ollama
// server, using the native /api/embed endpoint. Suitable models include
// nomic-embed-text, mxbai-embed-large and all-minilm.
//
// Only the standard library is needed: the endpoint is plain JSON over HTTP.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/phucnt/kioku/pkg/provider/embeddings"
)

// DefaultBaseURL is where a locally running Ollama instance listens.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Embedder = (*Embedder)(nil)

// Embedder talks to one Ollama server with one model.
//
// The vector dimension is resolved in this order: an explicit
// [WithDimensions] value, the built-in table for recognised model names, or
// a one-time probe request on the first Dimensions call.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client

	dimensions int
	probeOnce  sync.Once
}

// Option configures an [Embedder].
type Option func(*Embedder)

// WithTimeout sets a per-request timeout on the HTTP client. Zero or
// negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

// WithDimensions pins the embedding dimension, skipping both the model-name
// table and the probe request.
func WithDimensions(dims int) Option {
	return func(e *Embedder) { e.dimensions = dims }
}

// New constructs an Embedder for the given server and model. An empty
// baseURL means [DefaultBaseURL]; model must not be empty.
func New(baseURL, model string, opts ...Option) (*Embedder, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	e := &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.dimensions == 0 {
		e.dimensions = knownDimensions(model)
	}
	return e, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed computes the vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.call(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch computes vectors for all texts in one request. An empty input
// returns (nil, nil) without touching the network.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.call(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama: embed batch: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions reports the vector length, probing the live server once for
// models the built-in table does not recognise. Returns 0 when the probe
// fails; the next call does not retry.
func (e *Embedder) Dimensions() int {
	if e.dimensions != 0 {
		return e.dimensions
	}
	e.probeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vecs, err := e.call(ctx, []string{"probe"})
		if err == nil && len(vecs) > 0 {
			e.dimensions = len(vecs[0])
		}
	})
	return e.dimensions
}

// ModelID returns the Ollama model name.
func (e *Embedder) ModelID() string {
	return e.model
}

func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions maps recognised model names to their output dimension.
// Unknown models return 0 and are probed instead.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
