// Package rules is the degraded-mode [extract.Extractor]: a handful of
// lexical heuristics instead of a model. It keeps the graph growing when no
// LLM backend is reachable.
//
// The heuristics target bilingual Vietnamese/English journal entries:
// emotion keywords in both languages, capitalized tokens as people, and an
// explicit YYYY-MM-DD in the text as the event date.
package rules

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/provider/extract"
)

// emotionKeywords maps trigger words to the emotion entity they assert.
var emotionKeywords = map[string]string{
	"happy":      "joy",
	"vui":        "joy",
	"sad":        "sadness",
	"buồn":       "sadness",
	"stressed":   "stress",
	"căng thẳng": "stress",
	"anxious":    "anxiety",
	"lo lắng":    "anxiety",
	"depressed":  "depression",
	"trầm cảm":   "depression",
	"healthy":    "wellbeing",
	"khỏe":       "wellbeing",
	"tired":      "fatigue",
	"mệt":        "fatigue",
}

// notNames are capitalized-looking tokens that start Vietnamese sentences
// and must not be read as people.
var notNames = map[string]bool{
	"hôm":       true,
	"sáng":      true,
	"tối":       true,
	"đọc":       true,
	"cảm":       true,
	"bị":        true,
	"đi":        true,
	"gọi":       true,
	"the":       true,
	"today":     true,
	"yesterday": true,
}

var datePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)

// evidenceLimit caps the evidence quote attached to heuristic edges.
const evidenceLimit = 100

var _ extract.Extractor = (*Extractor)(nil)

// Extractor applies the heuristics. Stateless; the zero value works.
type Extractor struct{}

// New returns a rule-based extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract scans text for emotion keywords and capitalized person names, and
// links every person to every detected emotion with a moderate-confidence
// EMOTIONAL edge.
func (e *Extractor) Extract(_ context.Context, text string, _ []memory.GraphNode, _ string) (memory.Extraction, error) {
	ex := memory.Extraction{
		Entities:      []memory.Entity{},
		Relationships: []memory.Relationship{},
	}
	lower := strings.ToLower(text)

	emotions := []string{}
	seenEmotion := map[string]bool{}
	for keyword, emotion := range emotionKeywords {
		if strings.Contains(lower, keyword) && !seenEmotion[emotion] {
			seenEmotion[emotion] = true
			emotions = append(emotions, emotion)
			ex.Entities = append(ex.Entities, memory.Entity{Name: emotion, Type: memory.EntityEmotion})
		}
	}

	persons := []string{}
	seenPerson := map[string]bool{}
	for i, tok := range tokenize(text) {
		if len([]rune(tok)) < 2 || !unicode.IsUpper([]rune(tok)[0]) {
			continue
		}
		low := strings.ToLower(tok)
		if notNames[low] || seenPerson[low] {
			continue
		}
		// A capitalized first word is usually just sentence case.
		if i == 0 {
			continue
		}
		seenPerson[low] = true
		persons = append(persons, tok)
		ex.Entities = append(ex.Entities, memory.Entity{Name: tok, Type: memory.EntityPerson})
	}

	evidence := truncateRunes(text, evidenceLimit)
	for _, p := range persons {
		for _, em := range emotions {
			ex.Relationships = append(ex.Relationships, memory.Relationship{
				Source:   p,
				Target:   em,
				RelType:  memory.RelEmotional,
				Weight:   0.6,
				Evidence: evidence,
			})
		}
	}

	if m := datePattern.FindString(text); m != "" {
		if _, err := time.Parse("2006-01-02", m); err == nil {
			ex.EventDate = m
		}
	}
	return ex, nil
}

// tokenize splits on anything that is not a letter, keeping Unicode letters
// (Vietnamese diacritics included) together.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
