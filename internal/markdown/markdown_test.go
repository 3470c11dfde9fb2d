package markdown

import (
	"strings"
	"testing"

	"github.com/phucnt/kioku/pkg/memory"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	l, err := NewLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	return l
}

func TestAppendFormat(t *testing.T) {
	l := newLog(t)

	err := l.Append(memory.Document{
		Content:   "coffee with Minh",
		Date:      "2026-08-20",
		Timestamp: "2026-08-20T09:30:00+07:00",
		Mood:      "tired",
		Tags:      []string{"work", "deadline"},
		EventDate: "2026-08-19",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := l.Read("2026-08-20")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	wantLines := []string{
		"# Kioku — 2026-08-20",
		`time: "2026-08-20T09:30:00+07:00"`,
		`mood: "tired"`,
		"tags: ['work', 'deadline']",
		`event_time: "2026-08-19"`,
		"coffee with Minh",
	}
	for _, w := range wantLines {
		if !strings.Contains(raw, w) {
			t.Errorf("file missing %q:\n%s", w, raw)
		}
	}

	// Optional lines are omitted, not written empty.
	if err := l.Append(memory.Document{
		Content:   "plain entry",
		Date:      "2026-08-21",
		Timestamp: "2026-08-21T10:00:00+07:00",
	}); err != nil {
		t.Fatalf("Append minimal: %v", err)
	}
	raw, _ = l.Read("2026-08-21")
	for _, absent := range []string{"mood:", "tags:", "event_time:"} {
		if strings.Contains(raw, absent) {
			t.Errorf("minimal entry wrote %q:\n%s", absent, raw)
		}
	}
}

func TestHeaderWrittenOnce(t *testing.T) {
	l := newLog(t)
	for _, c := range []string{"first", "second"} {
		if err := l.Append(memory.Document{
			Content: c, Date: "2026-08-20", Timestamp: "2026-08-20T09:00:00+07:00",
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	raw, _ := l.Read("2026-08-20")
	if got := strings.Count(raw, "# Kioku"); got != 1 {
		t.Errorf("header count = %d, want 1", got)
	}
}

func TestRoundTrip(t *testing.T) {
	l := newLog(t)

	docs := []memory.Document{
		{
			Content:   "first entry\nwith a second line",
			Date:      "2026-08-20",
			Timestamp: "2026-08-20T09:00:00+07:00",
			Mood:      "calm",
			Tags:      []string{"morning", "it's-fine"},
		},
		{
			Content:   "second entry",
			Date:      "2026-08-20",
			Timestamp: "2026-08-20T21:00:00+07:00",
			EventDate: "2026-08-18",
		},
	}
	for _, d := range docs {
		if err := l.Append(d); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := l.Entries("2026-08-20")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != len(docs) {
		t.Fatalf("got %d entries, want %d", len(got), len(docs))
	}
	for i, want := range docs {
		g := got[i]
		if g.Content != want.Content {
			t.Errorf("entry %d Content = %q, want %q", i, g.Content, want.Content)
		}
		if g.Timestamp != want.Timestamp || g.Mood != want.Mood || g.EventDate != want.EventDate {
			t.Errorf("entry %d metadata = %+v, want %+v", i, g, want)
		}
		if len(g.Tags) != len(want.Tags) {
			t.Errorf("entry %d Tags = %v, want %v", i, g.Tags, want.Tags)
		} else {
			for j := range want.Tags {
				if g.Tags[j] != want.Tags[j] {
					t.Errorf("entry %d tag %d = %q, want %q", i, j, g.Tags[j], want.Tags[j])
				}
			}
		}
		if g.ContentHash != memory.HashContent(want.Content) {
			t.Errorf("entry %d hash mismatch", i)
		}
	}
}

func TestReadMissingDate(t *testing.T) {
	l := newLog(t)
	raw, err := l.Read("1999-01-01")
	if err != nil || raw != "" {
		t.Errorf("Read missing = (%q, %v), want empty, nil", raw, err)
	}
	entries, err := l.Entries("1999-01-01")
	if err != nil || len(entries) != 0 {
		t.Errorf("Entries missing = (%v, %v), want empty, nil", entries, err)
	}
}

func TestDates(t *testing.T) {
	l := newLog(t)
	for _, d := range []string{"2026-08-20", "2026-08-01", "2026-08-15"} {
		if err := l.Append(memory.Document{Content: "x", Date: d, Timestamp: d + "T00:00:00+07:00"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	dates, err := l.Dates()
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	want := []string{"2026-08-20", "2026-08-15", "2026-08-01"}
	if len(dates) != len(want) {
		t.Fatalf("Dates = %v, want %v", dates, want)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("Dates[%d] = %q, want %q", i, dates[i], want[i])
		}
	}
}

func TestAppendValidation(t *testing.T) {
	l := newLog(t)
	if err := l.Append(memory.Document{Date: "2026-08-20"}); err == nil {
		t.Error("empty content accepted")
	}
	if err := l.Append(memory.Document{Content: "x"}); err == nil {
		t.Error("empty date accepted")
	}
}
