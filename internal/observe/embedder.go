package observe

import (
	"context"
	"time"

	"github.com/phucnt/kioku/pkg/provider/embeddings"
)

// instrumentedEmbedder times every embedding call on behalf of the wrapped
// backend.
type instrumentedEmbedder struct {
	inner   embeddings.Embedder
	metrics *Metrics
}

// InstrumentEmbedder wraps e so each Embed and EmbedBatch call records its
// duration on m. Dimensions and ModelID pass through untouched.
func InstrumentEmbedder(e embeddings.Embedder, m *Metrics) embeddings.Embedder {
	return &instrumentedEmbedder{inner: e, metrics: m}
}

func (ie *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	started := time.Now()
	vec, err := ie.inner.Embed(ctx, text)
	ie.metrics.RecordEmbedding(ctx, time.Since(started))
	return vec, err
}

func (ie *instrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	started := time.Now()
	vecs, err := ie.inner.EmbedBatch(ctx, texts)
	ie.metrics.RecordEmbedding(ctx, time.Since(started))
	return vecs, err
}

func (ie *instrumentedEmbedder) Dimensions() int { return ie.inner.Dimensions() }

func (ie *instrumentedEmbedder) ModelID() string { return ie.inner.ModelID() }
