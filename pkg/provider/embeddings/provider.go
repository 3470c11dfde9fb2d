// Package embeddings defines the Embedder interface for dense-vector text
// embedding backends.
//
// An embedder maps memory text to float32 vectors for the semantic retrieval
// leg. One vector index instance is always paired with one embedder; mixing
// vectors from different models in the same index produces garbage
// similarities, so the index records the model it was built with.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Embedder is the abstraction over any text-embedding backend.
//
// All vectors produced by one Embedder instance share the dimensionality
// reported by Dimensions.
type Embedder interface {
	// Embed computes the vector for a single text. The text is passed to
	// the backend verbatim; any model-specific prefixing is the caller's
	// concern.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for several texts in one backend call.
	// result[i] corresponds to texts[i]. On error no partial results are
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length this embedder produces,
	// or 0 when it cannot yet be determined.
	Dimensions() int

	// ModelID identifies the underlying model, for logging and for
	// detecting index/embedder mismatches.
	ModelID() string
}
