package extract

import (
	"strings"
	"testing"

	"github.com/phucnt/kioku/pkg/memory"
)

func TestBuildPrompt(t *testing.T) {
	nodes := make([]memory.GraphNode, 40)
	for i := range nodes {
		nodes[i] = memory.GraphNode{Name: strings.Repeat("x", i+1), Type: memory.EntityTopic}
	}

	p := BuildPrompt("coffee with Minh", nodes, "2026-08-20")
	if !strings.Contains(p, "coffee with Minh") {
		t.Error("prompt missing entry text")
	}
	if !strings.Contains(p, "2026-08-20") {
		t.Error("prompt missing processing date")
	}
	// The 31st known entity (31 x's) must be cut by the cap.
	if strings.Contains(p, strings.Repeat("x", 31)) {
		t.Error("context entities not capped")
	}
	if !strings.Contains(p, strings.Repeat("x", 30)) {
		t.Error("capped prompt lost an entity inside the cap")
	}

	bare := BuildPrompt("entry", nil, "2026-08-20")
	if strings.Contains(bare, "Known entities") {
		t.Error("empty context rendered a known-entities block")
	}
}

func TestParseResponse(t *testing.T) {
	clean := `{"entities": [{"name": "Minh", "type": "person"}],
		"relationships": [{"source": "Minh", "target": "stress", "type": "EMOTIONAL", "weight": 0.8, "evidence": "deadline"}],
		"event_time": "2026-08-19"}`

	tests := []struct {
		name string
		in   string
	}{
		{"bare json", clean},
		{"fenced", "```json\n" + clean + "\n```"},
		{"prose around", "Sure, here is the extraction:\n" + clean + "\nHope that helps!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := ParseResponse(tt.in)
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if len(ex.Entities) != 1 || ex.Entities[0].Name != "Minh" {
				t.Errorf("Entities = %v", ex.Entities)
			}
			if ex.Entities[0].Type != memory.EntityPerson {
				t.Errorf("Type = %q, want normalised PERSON", ex.Entities[0].Type)
			}
			if len(ex.Relationships) != 1 || ex.Relationships[0].Weight != 0.8 {
				t.Errorf("Relationships = %v", ex.Relationships)
			}
			if ex.EventDate != "2026-08-19" {
				t.Errorf("EventDate = %q", ex.EventDate)
			}
		})
	}
}

func TestParseResponseDefaults(t *testing.T) {
	ex, err := ParseResponse(`{"relationships": [
		{"source": "a", "target": "b"},
		{"source": "a", "target": "c", "type": "FRIENDSHIP", "weight": 7},
		{"source": "", "target": "d"}
	], "event_time": "not a date"}`)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(ex.Relationships) != 2 {
		t.Fatalf("got %d relationships, want 2 (empty source dropped)", len(ex.Relationships))
	}
	if ex.Relationships[0].RelType != memory.RelTopical || ex.Relationships[0].Weight != 0.5 {
		t.Errorf("defaults: %+v, want TOPICAL / 0.5", ex.Relationships[0])
	}
	if ex.Relationships[1].RelType != memory.RelTopical {
		t.Errorf("unknown rel type = %q, want TOPICAL", ex.Relationships[1].RelType)
	}
	if ex.Relationships[1].Weight != 1 {
		t.Errorf("weight = %v, want clamped 1", ex.Relationships[1].Weight)
	}
	if ex.EventDate != "" {
		t.Errorf("EventDate = %q, want empty for malformed date", ex.EventDate)
	}
}

func TestParseResponseErrors(t *testing.T) {
	for _, in := range []string{"", "no json here", "{broken"} {
		if _, err := ParseResponse(in); err == nil {
			t.Errorf("ParseResponse(%q) succeeded, want error", in)
		}
	}
}
