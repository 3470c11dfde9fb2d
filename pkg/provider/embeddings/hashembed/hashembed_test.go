package hashembed

import (
	"context"
	"testing"
)

func TestEmbedDeterministic(t *testing.T) {
	e := New()
	ctx := context.Background()

	a, err := e.Embed(ctx, "coffee with Minh")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != Dim {
		t.Fatalf("len = %d, want %d", len(a), Dim)
	}

	b, _ := e.Embed(ctx, "coffee with Minh")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vec[%d] differs across calls: %v vs %v", i, a[i], b[i])
		}
	}

	c, _ := e.Embed(ctx, "different text")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts produced identical vectors")
	}
}

func TestEmbedRange(t *testing.T) {
	e := New()
	vec, err := e.Embed(context.Background(), "range check")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, v := range vec {
		if v < -1 || v >= 1 {
			t.Errorf("vec[%d] = %v out of [-1, 1)", i, v)
		}
	}
}

func TestEmbedBatch(t *testing.T) {
	e := New()
	ctx := context.Background()

	out, err := e.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	single, _ := e.Embed(ctx, "a")
	for i := range single {
		if out[0][i] != single[i] {
			t.Fatal("batch result differs from single embed")
		}
	}

	if out, err := e.EmbedBatch(ctx, nil); err != nil || out != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", out, err)
	}
}
