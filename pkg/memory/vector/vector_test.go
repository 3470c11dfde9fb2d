package vector_test

import (
	"context"
	"math"
	"testing"

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/memory/vector"
	"github.com/phucnt/kioku/pkg/memory/vector/memvec"
)

// stubEmbedder returns a fixed vector per known text and counts calls.
type stubEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) ModelID() string { return "stub" }

func doc(content, date string) memory.Document {
	return memory.Document{
		Content:     content,
		Date:        date,
		ContentHash: memory.HashContent(content),
	}
}

func TestAddSkipsExisting(t *testing.T) {
	emb := &stubEmbedder{}
	ix := vector.New(memvec.New(), emb)
	ctx := context.Background()

	d := doc("coffee with Minh", "2026-08-20")
	if err := ix.Add(ctx, d); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("embed calls = %d, want 1", emb.calls)
	}

	// Same hash again: no new embedding, no new record.
	if err := ix.Add(ctx, d); err != nil {
		t.Fatalf("Add duplicate: %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("embed calls after duplicate = %d, want 1", emb.calls)
	}
	n, err := ix.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

// captureBackend records the last upserted record for inspection.
type captureBackend struct {
	last vector.Record
}

func (c *captureBackend) Has(context.Context, string) (bool, error) { return false, nil }

func (c *captureBackend) Upsert(_ context.Context, rec vector.Record) error {
	c.last = rec
	return nil
}

func (c *captureBackend) Search(context.Context, []float32, int, string, string) ([]memory.VectorResult, error) {
	return []memory.VectorResult{}, nil
}

func (c *captureBackend) Count(context.Context) (int, error) { return 0, nil }

func (c *captureBackend) Close() error { return nil }

func TestAddCarriesTagsAndEventDate(t *testing.T) {
	backend := &captureBackend{}
	ix := vector.New(backend, &stubEmbedder{})

	d := doc("birthday dinner with Mẹ", "2026-08-20")
	d.Tags = []string{"family", "food"}
	d.EventDate = "2026-08-15"
	if err := ix.Add(context.Background(), d); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if backend.last.TagsCSV != "family,food" {
		t.Errorf("TagsCSV = %q, want family,food", backend.last.TagsCSV)
	}
	if backend.last.EventDate != "2026-08-15" {
		t.Errorf("EventDate = %q, want 2026-08-15", backend.last.EventDate)
	}
}

func TestSearchEmptySkipsEmbedder(t *testing.T) {
	emb := &stubEmbedder{}
	ix := vector.New(memvec.New(), emb)

	results, err := ix.Search(context.Background(), "anything", 5, "", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty index", len(results))
	}
	if emb.calls != 0 {
		t.Errorf("embedder consulted %d times on empty index, want 0", emb.calls)
	}
}

func TestSearchOrdering(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"near":  {1, 0, 0},
		"far":   {0, 1, 0},
		"query": {0.9, 0.1, 0},
	}}
	ix := vector.New(memvec.New(), emb)
	ctx := context.Background()

	for _, d := range []memory.Document{doc("near", "2026-08-20"), doc("far", "2026-08-21")} {
		if err := ix.Add(ctx, d); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	results, err := ix.Search(ctx, "query", 10, "", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Content != "near" {
		t.Errorf("closest = %q, want near", results[0].Content)
	}
	if results[0].Distance >= results[1].Distance {
		t.Errorf("distances not ascending: %v then %v", results[0].Distance, results[1].Distance)
	}

	// Date filter keeps only the record inside the window.
	filtered, err := ix.Search(ctx, "query", 10, "2026-08-21", "2026-08-21")
	if err != nil {
		t.Fatalf("Search filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Content != "far" {
		t.Errorf("filtered = %v, want only far", filtered)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vector.CosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineDistance = %v, want %v", got, tt.want)
			}
		})
	}
}
