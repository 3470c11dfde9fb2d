// Package markdown maintains the append-only markdown log, the
// human-readable source of truth every index can be rebuilt from.
//
// One file per processing date, named YYYY-MM-DD.md. A file starts with a
// header line and grows by frontmatter-delimited entries:
//
//	# Kioku — 2026-08-20
//
//	---
//	time: "2026-08-20T09:30:00+07:00"
//	mood: "tired"
//	tags: ['work', 'deadline']
//	event_time: "2026-08-19"
//	---
//	The entry text.
//
// mood, tags and event_time lines are omitted when empty. The format
// round-trips: [Log.Entries] recovers exactly what [Log.Append] wrote.
package markdown

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/phucnt/kioku/pkg/memory"
)

// Log is the append-only markdown store rooted at one directory. Appends
// are serialized; reads take no lock because appends are whole-entry
// writes with O_APPEND.
type Log struct {
	dir string
	mu  sync.Mutex
}

// NewLog creates the directory if needed and returns the log.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("markdown: create dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Dir returns the log's root directory.
func (l *Log) Dir() string {
	return l.dir
}

func (l *Log) path(date string) string {
	return filepath.Join(l.dir, date+".md")
}

// Append writes one entry to the file for doc.Date, creating the file with
// its header on first write.
func (l *Log) Append(doc memory.Document) error {
	if doc.Content == "" {
		return fmt.Errorf("markdown: append: empty content: %w", memory.ErrInvalidInput)
	}
	if doc.Date == "" {
		return fmt.Errorf("markdown: append: empty date: %w", memory.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.path(doc.Date)
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("markdown: append: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if fresh {
		fmt.Fprintf(&b, "# Kioku — %s\n", doc.Date)
	}
	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "time: %q\n", doc.Timestamp)
	if doc.Mood != "" {
		fmt.Fprintf(&b, "mood: %q\n", doc.Mood)
	}
	if len(doc.Tags) != 0 {
		b.WriteString("tags: " + renderTags(doc.Tags) + "\n")
	}
	if doc.EventDate != "" {
		fmt.Fprintf(&b, "event_time: %q\n", doc.EventDate)
	}
	b.WriteString("---\n")
	b.WriteString(doc.Content)
	b.WriteString("\n")

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("markdown: append: %w", err)
	}
	return nil
}

// Read returns the raw markdown file for a date, or ("", nil) when the date
// has no entries.
func (l *Log) Read(date string) (string, error) {
	data, err := os.ReadFile(l.path(date))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("markdown: read: %w", err)
	}
	return string(data), nil
}

// Entries parses the file for a date back into documents. The content hash
// is recomputed from the text, which is what makes the log a valid rebuild
// source for the indexes.
func (l *Log) Entries(date string) ([]memory.Document, error) {
	raw, err := l.Read(date)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return []memory.Document{}, nil
	}

	// Chunks alternate after the header: odd indexes are frontmatter, the
	// chunk after each holds the body.
	chunks := strings.Split(raw, "\n---\n")
	docs := []memory.Document{}
	for i := 1; i+1 < len(chunks); i += 2 {
		doc := parseFrontmatter(chunks[i])
		doc.Date = date
		doc.Content = strings.TrimSuffix(chunks[i+1], "\n")
		if doc.Content == "" {
			continue
		}
		doc.ContentHash = memory.HashContent(doc.Content)
		docs = append(docs, doc)
	}
	return docs, nil
}

// Dates lists every date with a log file, newest first.
func (l *Log) Dates() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("markdown: list dates: %w", err)
	}
	dates := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(name, ".md"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func parseFrontmatter(block string) memory.Document {
	doc := memory.Document{}
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "time":
			doc.Timestamp = unquote(value)
		case "mood":
			doc.Mood = unquote(value)
		case "tags":
			doc.Tags = parseTags(value)
		case "event_time":
			doc.EventDate = unquote(value)
		}
	}
	return doc
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func renderTags(tags []string) string {
	quoted := make([]string, len(tags))
	for i, t := range tags {
		quoted[i] = "'" + strings.ReplaceAll(t, "'", `\'`) + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

var tagPattern = regexp.MustCompile(`'((?:\\'|[^'])*)'`)

func parseTags(s string) []string {
	matches := tagPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, len(matches))
	for i, m := range matches {
		tags[i] = strings.ReplaceAll(m[1], `\'`, "'")
	}
	return tags
}
