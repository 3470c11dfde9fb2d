// Package hashembed provides a deterministic, dependency-free
// [embeddings.Embedder] derived from the SHA-256 digest of the input text.
//
// The vectors carry no semantic signal: identical texts map to identical
// vectors and everything else is effectively random. It exists so the vector
// leg keeps functioning, degraded, when no real embedding backend is
// reachable, and so tests get reproducible vectors without a server.
package hashembed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/phucnt/kioku/pkg/provider/embeddings"
)

// Dim is the fixed vector length.
const Dim = 128

var _ embeddings.Embedder = (*Embedder)(nil)

// Embedder derives vectors from content hashes. The zero value is ready to
// use; it is stateless and safe for concurrent use.
type Embedder struct{}

// New returns a hash-based embedder.
func New() *Embedder {
	return &Embedder{}
}

// Embed maps text to a [Dim]-length vector: each component is a hex digit of
// the SHA-256 digest (cycled) recentred into [-1, 1).
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	digest := hex.EncodeToString(sum[:])

	vec := make([]float32, Dim)
	for i := range vec {
		d := hexDigit(digest[i%len(digest)])
		vec[i] = float32(d-8) / 8.0
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns [Dim].
func (e *Embedder) Dimensions() int {
	return Dim
}

// ModelID identifies this degraded-mode embedder in logs.
func (e *Embedder) ModelID() string {
	return "hashembed"
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return 0
	}
}
