// Package vector implements [memory.VectorIndex] as an embedding wrapper
// around a pluggable storage [Backend].
//
// The wrapper owns the embedding policy so every backend behaves alike:
// documents are embedded exactly once on Add, an already-stored record ID is
// skipped before any embedding work happens, and searching an empty index
// never invokes the embedder at all. Backends only store vectors and run
// nearest-neighbour queries.
package vector

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/provider/embeddings"
)

// Record is one stored vector with the metadata needed to render a search
// hit without hydration.
type Record struct {
	ID          string
	Vector      []float32
	Content     string
	Date        string
	Mood        string
	Timestamp   string
	ContentHash string

	// TagsCSV is the document's tags joined with commas, and EventDate the
	// extracted event date when one exists. Neither drives search, but
	// dropping them would make the stored record lossy against the source
	// document.
	TagsCSV   string
	EventDate string
}

// Backend is a vector storage engine. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Has reports whether a record with the given ID is stored.
	Has(ctx context.Context, id string) (bool, error)

	// Upsert stores rec, replacing any record with the same ID.
	Upsert(ctx context.Context, rec Record) error

	// Search returns the limit nearest records by cosine distance,
	// closest first, restricted to the inclusive [dateFrom, dateTo]
	// processing-date window when the bounds are non-empty.
	Search(ctx context.Context, vec []float32, limit int, dateFrom, dateTo string) ([]memory.VectorResult, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases the backend.
	Close() error
}

var _ memory.VectorIndex = (*Index)(nil)

// Index pairs a [Backend] with the [embeddings.Embedder] its vectors were
// produced by.
type Index struct {
	backend Backend
	emb     embeddings.Embedder
}

// New builds an Index over backend using emb.
func New(backend Backend, emb embeddings.Embedder) *Index {
	return &Index{backend: backend, emb: emb}
}

// Add embeds doc.Content and stores it under the vector ID derived from its
// content hash. A record already present under that ID is left untouched
// and no embedding call is made.
func (ix *Index) Add(ctx context.Context, doc memory.Document) error {
	id := memory.VectorID(doc.ContentHash)

	exists, err := ix.backend.Has(ctx, id)
	if err != nil {
		return fmt.Errorf("vector: add: %w", err)
	}
	if exists {
		return nil
	}

	vec, err := ix.emb.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("vector: add: embed: %w", err)
	}

	err = ix.backend.Upsert(ctx, Record{
		ID:          id,
		Vector:      vec,
		Content:     doc.Content,
		Date:        doc.Date,
		Mood:        doc.Mood,
		Timestamp:   doc.Timestamp,
		ContentHash: doc.ContentHash,
		TagsCSV:     strings.Join(doc.Tags, ","),
		EventDate:   doc.EventDate,
	})
	if err != nil {
		return fmt.Errorf("vector: add: %w", err)
	}
	return nil
}

// Search embeds query and runs a nearest-neighbour scan. An empty index
// short-circuits to an empty result before the embedder is consulted, so a
// degraded embedder never blocks searches over nothing.
func (ix *Index) Search(ctx context.Context, query string, limit int, dateFrom, dateTo string) ([]memory.VectorResult, error) {
	n, err := ix.backend.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}
	if n == 0 {
		return []memory.VectorResult{}, nil
	}

	vec, err := ix.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector: search: embed: %w", err)
	}

	results, err := ix.backend.Search(ctx, vec, limit, dateFrom, dateTo)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}
	return results, nil
}

// Count reports the number of stored vectors.
func (ix *Index) Count(ctx context.Context) (int, error) {
	n, err := ix.backend.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("vector: count: %w", err)
	}
	return n, nil
}

// Close releases the underlying backend.
func (ix *Index) Close() error {
	return ix.backend.Close()
}

// CosineDistance returns 1 - cosine similarity of a and b, in [0, 2]. A zero
// vector on either side yields the maximal distance for its orthant, 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
