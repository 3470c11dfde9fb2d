package sqlitevec

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/memory/vector"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vec.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(content, date string, vec []float32) vector.Record {
	hash := memory.HashContent(content)
	return vector.Record{
		ID:          memory.VectorID(hash),
		Vector:      vec,
		Content:     content,
		Date:        date,
		ContentHash: hash,
	}
}

func TestUpsertAndHas(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := rec("first", "2026-08-20", []float32{1, 0, 0})
	ok, err := s.Has(ctx, r.ID)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if ok {
		t.Fatal("Has = true before insert")
	}

	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ok, err = s.Has(ctx, r.ID)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !ok {
		t.Fatal("Has = false after insert")
	}

	// Replacing the same ID must not grow the store.
	r.Vector = []float32{0, 1, 0}
	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestUpsertPersistsTagsAndEventDate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := rec("tagged entry", "2026-08-20", []float32{1, 0, 0})
	r.TagsCSV = "work,deadline"
	r.EventDate = "2026-08-18"
	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var tags, eventDate string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(tags_csv, ''), COALESCE(event_date, '') FROM vectors WHERE id = ?`,
		r.ID).Scan(&tags, &eventDate)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if tags != "work,deadline" {
		t.Errorf("tags_csv = %q, want work,deadline", tags)
	}
	if eventDate != "2026-08-18" {
		t.Errorf("event_date = %q, want 2026-08-18", eventDate)
	}
}

func TestSearchPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vec.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, r := range []vector.Record{
		rec("near", "2026-08-20", []float32{1, 0, 0}),
		rec("far", "2026-08-21", []float32{0, 1, 0}),
	} {
		if err := s.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	results, err := s2.Search(ctx, []float32{0.9, 0.1, 0}, 10, "", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Content != "near" {
		t.Errorf("closest = %q, want near", results[0].Content)
	}

	filtered, err := s2.Search(ctx, []float32{1, 0, 0}, 10, "2026-08-21", "")
	if err != nil {
		t.Fatalf("Search filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Content != "far" {
		t.Errorf("date filter: got %v, want only far", filtered)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vecs := [][]float32{
		{},
		{0},
		{1.5, -2.25, 3.125},
		{float32(math.Pi), float32(-math.E)},
	}
	for _, want := range vecs {
		got, err := decodeVector(encodeVector(want))
		if err != nil {
			t.Fatalf("decode(encode(%v)): %v", want, err)
		}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("component %d = %v, want %v", i, got[i], want[i])
			}
		}
	}

	if _, err := decodeVector([]byte{1, 2}); err == nil {
		t.Error("truncated blob decoded without error")
	}
	if _, err := decodeVector([]byte{9, 0, 0, 0, 1, 2, 3, 4}); err == nil {
		t.Error("length-mismatched blob decoded without error")
	}
}
