// Package extract defines the Extractor contract: turning one memory entry
// into the entities, relationships and event date the knowledge graph
// ingests.
//
// The package also owns the pieces every implementation shares: the prompt
// an LLM extractor sends and the tolerant parser that recovers a usable
// [memory.Extraction] from whatever the model answers.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/phucnt/kioku/pkg/memory"
)

// MaxContextEntities caps the known-entities block in the prompt so a large
// graph cannot crowd out the entry text.
const MaxContextEntities = 30

// Extractor produces a structured extraction from free-form text.
//
// contextEntities are the most-mentioned nodes already in the graph; they
// let the extractor resolve recurring names ("mom", "Minh") to their
// canonical casing instead of minting near-duplicates. processingDate is
// "today" for the entry, the anchor for relative time expressions.
//
// Implementations must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, text string, contextEntities []memory.GraphNode, processingDate string) (memory.Extraction, error)
}

// BuildPrompt renders the extraction instruction for one entry.
func BuildPrompt(text string, contextEntities []memory.GraphNode, processingDate string) string {
	var b strings.Builder
	b.WriteString(`Extract entities and relationships from this personal memory entry.

Return ONLY a JSON object, no other text, with this shape:
{
  "entities": [{"name": "...", "type": "PERSON|PLACE|EVENT|EMOTION|TOPIC|PRODUCT"}],
  "relationships": [{"source": "...", "target": "...", "type": "CAUSAL|EMOTIONAL|TEMPORAL|TOPICAL|INVOLVES", "weight": 0.0-1.0, "evidence": "short quote from the entry"}],
  "event_time": "YYYY-MM-DD or null"
}

Rules:
- Entity names are short noun phrases, no articles.
- weight reflects how strongly the entry supports the relationship.
- event_time is the date the described events happened, if the entry says so
  (resolve expressions like "yesterday" against today's date below). Use null
  when the entry gives no date.
`)

	if len(contextEntities) > 0 {
		n := len(contextEntities)
		if n > MaxContextEntities {
			n = MaxContextEntities
		}
		b.WriteString("\nKnown entities (reuse these exact names when the entry refers to them):\n")
		for _, e := range contextEntities[:n] {
			fmt.Fprintf(&b, "- %s (%s)\n", e.Name, e.Type)
		}
	}

	fmt.Fprintf(&b, "\nToday's date: %s\n\nEntry:\n%s\n", processingDate, text)
	return b.String()
}

// rawExtraction matches the JSON shape the prompt requests, loosely.
type rawExtraction struct {
	Entities []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"entities"`
	Relationships []struct {
		Source   string   `json:"source"`
		Target   string   `json:"target"`
		Type     string   `json:"type"`
		Weight   *float64 `json:"weight"`
		Evidence string   `json:"evidence"`
	} `json:"relationships"`
	EventTime string `json:"event_time"`
}

// ParseResponse recovers an extraction from an LLM answer. Models wrap JSON
// in code fences, prepend prose, or drop fields; the parser strips fences,
// isolates the outermost JSON object and applies defaults rather than
// failing. An answer with no parseable object at all is an error.
func ParseResponse(answer string) (memory.Extraction, error) {
	cleaned := stripFences(answer)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return memory.Extraction{}, fmt.Errorf("extract: no JSON object in response")
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return memory.Extraction{}, fmt.Errorf("extract: decode response: %w", err)
	}

	ex := memory.Extraction{
		Entities:      []memory.Entity{},
		Relationships: []memory.Relationship{},
	}
	for _, e := range raw.Entities {
		if e.Name == "" {
			continue
		}
		ex.Entities = append(ex.Entities, memory.Entity{
			Name: e.Name,
			Type: normalizeEntityType(e.Type),
		})
	}
	for _, r := range raw.Relationships {
		if r.Source == "" || r.Target == "" {
			continue
		}
		weight := 0.5
		if r.Weight != nil {
			weight = clamp01(*r.Weight)
		}
		ex.Relationships = append(ex.Relationships, memory.Relationship{
			Source:   r.Source,
			Target:   r.Target,
			RelType:  normalizeRelType(r.Type),
			Weight:   weight,
			Evidence: r.Evidence,
		})
	}
	ex.EventDate = normalizeDate(raw.EventTime)
	return ex, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalizeEntityType(t string) string {
	up := strings.ToUpper(strings.TrimSpace(t))
	switch up {
	case memory.EntityPerson, memory.EntityPlace, memory.EntityEvent,
		memory.EntityEmotion, memory.EntityTopic, memory.EntityProduct:
		return up
	case "":
		return memory.EntityTopic
	default:
		return up
	}
}

func normalizeRelType(t string) string {
	up := strings.ToUpper(strings.TrimSpace(t))
	switch up {
	case memory.RelCausal, memory.RelEmotional, memory.RelTemporal,
		memory.RelTopical, memory.RelInvolves:
		return up
	default:
		return memory.RelTopical
	}
}

func normalizeDate(d string) string {
	d = strings.TrimSpace(d)
	if d == "" || strings.EqualFold(d, "null") {
		return ""
	}
	if _, err := time.Parse("2006-01-02", d); err != nil {
		return ""
	}
	return d
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
