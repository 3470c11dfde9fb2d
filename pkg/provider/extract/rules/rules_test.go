package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/phucnt/kioku/pkg/memory"
)

func mustExtract(t *testing.T, text string) memory.Extraction {
	t.Helper()
	ex, err := New().Extract(context.Background(), text, nil, "2026-08-20")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return ex
}

func hasEntity(ex memory.Extraction, name, typ string) bool {
	for _, e := range ex.Entities {
		if e.Name == name && e.Type == typ {
			return true
		}
	}
	return false
}

func TestExtractEnglish(t *testing.T) {
	ex := mustExtract(t, "Felt really stressed after the call with Minh about the deadline")

	if !hasEntity(ex, "stress", memory.EntityEmotion) {
		t.Errorf("missing stress emotion: %v", ex.Entities)
	}
	if !hasEntity(ex, "Minh", memory.EntityPerson) {
		t.Errorf("missing person Minh: %v", ex.Entities)
	}

	if len(ex.Relationships) == 0 {
		t.Fatal("no relationships produced")
	}
	r := ex.Relationships[0]
	if r.Source != "Minh" || r.Target != "stress" || r.RelType != memory.RelEmotional {
		t.Errorf("relationship = %+v, want Minh -EMOTIONAL-> stress", r)
	}
	if r.Weight != 0.6 {
		t.Errorf("Weight = %v, want 0.6", r.Weight)
	}
}

func TestExtractVietnamese(t *testing.T) {
	ex := mustExtract(t, "Hôm nay cảm thấy căng thẳng, đi cà phê với Lan cho đỡ buồn")

	if !hasEntity(ex, "stress", memory.EntityEmotion) {
		t.Errorf("căng thẳng not detected: %v", ex.Entities)
	}
	if !hasEntity(ex, "sadness", memory.EntityEmotion) {
		t.Errorf("buồn not detected: %v", ex.Entities)
	}
	if !hasEntity(ex, "Lan", memory.EntityPerson) {
		t.Errorf("missing person Lan: %v", ex.Entities)
	}
	// "Hôm" is capitalized sentence-initially but is not a name.
	if hasEntity(ex, "Hôm", memory.EntityPerson) {
		t.Error("Hôm misread as a person")
	}
}

func TestExtractEvidenceTruncated(t *testing.T) {
	long := "met Alice feeling happy " + strings.Repeat("x", 200)
	ex := mustExtract(t, long)
	if len(ex.Relationships) == 0 {
		t.Fatal("no relationships produced")
	}
	if n := len([]rune(ex.Relationships[0].Evidence)); n != evidenceLimit {
		t.Errorf("evidence length = %d runes, want %d", n, evidenceLimit)
	}
}

func TestExtractEventDate(t *testing.T) {
	ex := mustExtract(t, "dinner with Mai on 2026-08-15 was lovely, felt happy")
	if ex.EventDate != "2026-08-15" {
		t.Errorf("EventDate = %q, want 2026-08-15", ex.EventDate)
	}

	none := mustExtract(t, "nothing dated here")
	if none.EventDate != "" {
		t.Errorf("EventDate = %q, want empty", none.EventDate)
	}
}

func TestExtractEmpty(t *testing.T) {
	ex := mustExtract(t, "just an ordinary note with nothing notable")
	if len(ex.Relationships) != 0 {
		t.Errorf("relationships = %v, want none", ex.Relationships)
	}
	if ex.Entities == nil || ex.Relationships == nil {
		t.Error("slices must be non-nil")
	}
}
