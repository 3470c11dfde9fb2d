// Package sqlitefts implements [memory.KeywordIndex] on SQLite with an FTS5
// full-text index.
//
// The memories table is the authoritative document store; a contentless-sync
// FTS5 virtual table mirrors its content column via triggers, so the two can
// never drift apart. The driver is the pure-Go modernc.org/sqlite, keeping
// the store cgo-free.
package sqlitefts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/phucnt/kioku/pkg/memory"
)

// schema creates the document table, the FTS5 index and the triggers keeping
// them synchronized. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	content      TEXT NOT NULL,
	date         TEXT NOT NULL,
	mood         TEXT,
	timestamp    TEXT,
	content_hash TEXT UNIQUE,
	tags         TEXT,
	event_time   TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	content,
	content='memories',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memory_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, content)
	VALUES ('delete', old.id, old.content);
END;
`

// Store is a SQLite-backed [memory.KeywordIndex]. Reads run concurrently;
// writes are serialized through an internal mutex because a single SQLite
// connection pool tolerates only one writer at a time under WAL.
type Store struct {
	db *sql.DB
	mu sync.Mutex // guards writes
}

var _ memory.KeywordIndex = (*Store)(nil)

// Open opens (creating if necessary) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000")
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitefts: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Index inserts doc and returns its row ID, or -1 when a document with the
// same content hash is already stored. The insert uses OR IGNORE so the
// duplicate case is detected without a separate lookup and without an error
// round trip.
func (s *Store) Index(ctx context.Context, doc memory.Document) (int64, error) {
	if doc.Content == "" {
		return 0, fmt.Errorf("sqlitefts: index: empty content: %w", memory.ErrInvalidInput)
	}

	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return 0, fmt.Errorf("sqlitefts: index: encode tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memories (content, date, mood, timestamp, content_hash, tags, event_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.Content, doc.Date, doc.Mood, doc.Timestamp, doc.ContentHash, string(tags), doc.EventDate,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitefts: index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitefts: index: %w", err)
	}
	if n == 0 {
		return -1, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitefts: index: %w", err)
	}
	return id, nil
}

// Search runs a BM25 query over the FTS index. Each whitespace-separated
// token of query is quoted before matching so user text can never be
// mistaken for FTS5 query syntax. Rank is returned as abs(rank): SQLite
// ranks are negative with better matches more negative, so the absolute
// value is a positive higher-is-better score.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]memory.FTSResult, error) {
	match := ftsQuote(query)
	if match == "" {
		return []memory.FTSResult{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.date, COALESCE(m.mood, ''), COALESCE(m.timestamp, ''),
		       COALESCE(m.content_hash, ''), abs(f.rank)
		FROM memory_fts f
		JOIN memories m ON m.id = f.rowid
		WHERE memory_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: search: %w", err)
	}
	defer rows.Close()

	results := []memory.FTSResult{}
	for rows.Next() {
		var r memory.FTSResult
		if err := rows.Scan(&r.RowID, &r.Content, &r.Date, &r.Mood, &r.Timestamp, &r.ContentHash, &r.Rank); err != nil {
			return nil, fmt.Errorf("sqlitefts: search: scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitefts: search: %w", err)
	}
	return results, nil
}

// ftsQuote turns free text into a safe FTS5 match expression: every token is
// double-quoted with embedded quotes doubled, tokens joined by implicit AND.
func ftsQuote(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// GetByHashes fetches documents for the given content hashes. Unknown hashes
// are silently absent from the result map.
func (s *Store) GetByHashes(ctx context.Context, hashes []string) (map[string]memory.Document, error) {
	out := make(map[string]memory.Document, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content, date, COALESCE(mood, ''), COALESCE(timestamp, ''), content_hash,
		       COALESCE(tags, '[]'), COALESCE(event_time, '')
		FROM memories
		WHERE content_hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: get by hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitefts: get by hashes: %w", err)
		}
		out[doc.ContentHash] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitefts: get by hashes: %w", err)
	}
	return out, nil
}

// GetByDate returns all documents saved on the given processing date in
// insertion order.
func (s *Store) GetByDate(ctx context.Context, date string) ([]memory.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, date, COALESCE(mood, ''), COALESCE(timestamp, ''), content_hash,
		       COALESCE(tags, '[]'), COALESCE(event_time, '')
		FROM memories
		WHERE date = ?
		ORDER BY id`, date)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: get by date: %w", err)
	}
	defer rows.Close()

	docs := []memory.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitefts: get by date: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitefts: get by date: %w", err)
	}
	return docs, nil
}

// Timeline returns documents in the inclusive [start, end] window, newest
// first. With [memory.SortEventTime] the sort and filter key is the event
// date, falling back per document to the processing date when no event date
// was recorded.
func (s *Store) Timeline(ctx context.Context, start, end string, limit int, sortBy string) ([]memory.Document, error) {
	var key string
	switch sortBy {
	case "", memory.SortProcessingTime:
		key = "date"
	case memory.SortEventTime:
		key = "COALESCE(NULLIF(event_time, ''), date)"
	default:
		return nil, fmt.Errorf("sqlitefts: timeline: sort key %q: %w", sortBy, memory.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content, date, COALESCE(mood, ''), COALESCE(timestamp, ''), content_hash,
		       COALESCE(tags, '[]'), COALESCE(event_time, '')
		FROM memories
		WHERE (? = '' OR `+key+` >= ?) AND (? = '' OR `+key+` <= ?)
		ORDER BY `+key+` DESC, id DESC
		LIMIT ?`, start, start, end, end, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: timeline: %w", err)
	}
	defer rows.Close()

	docs := []memory.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitefts: timeline: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitefts: timeline: %w", err)
	}
	return docs, nil
}

// Dates returns every distinct processing date, newest first.
func (s *Store) Dates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT date FROM memories ORDER BY date DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: dates: %w", err)
	}
	defer rows.Close()

	dates := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("sqlitefts: dates: scan: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitefts: dates: %w", err)
	}
	return dates, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitefts: count: %w", err)
	}
	return n, nil
}

// scanDocument reads one full document row in the canonical column order.
func scanDocument(rows *sql.Rows) (memory.Document, error) {
	var doc memory.Document
	var tags string
	if err := rows.Scan(&doc.Content, &doc.Date, &doc.Mood, &doc.Timestamp, &doc.ContentHash, &tags, &doc.EventDate); err != nil {
		return memory.Document{}, fmt.Errorf("scan: %w", err)
	}
	if tags != "" && tags != "[]" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
			return memory.Document{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return doc, nil
}
