// Package sqlitevec is the embedded persistent [vector.Backend]: vectors in
// a SQLite table as little-endian float32 blobs, searched by brute-force
// cosine scan.
//
// A linear scan over a personal-memory corpus (thousands of entries) stays
// well under the vector-leg timeout, so no ANN structure is maintained.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/memory/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	id           TEXT PRIMARY KEY,
	embedding    BLOB NOT NULL,
	content      TEXT NOT NULL,
	date         TEXT,
	mood         TEXT,
	timestamp    TEXT,
	content_hash TEXT,
	tags_csv     TEXT,
	event_date   TEXT
);

CREATE INDEX IF NOT EXISTS vectors_date ON vectors(date);
`

var _ vector.Backend = (*Store)(nil)

// Store is a SQLite-backed vector store. Reads run concurrently; writes are
// serialized through an internal mutex.
type Store struct {
	db *sql.DB
	mu sync.Mutex // guards writes
}

// Open opens (creating if necessary) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000")
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitevec: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Has reports whether id is stored.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM vectors WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlitevec: has: %w", err)
	}
	return true, nil
}

// Upsert stores rec, replacing any record with the same ID.
func (s *Store) Upsert(ctx context.Context, rec vector.Record) error {
	blob := encodeVector(rec.Vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vectors (id, embedding, content, date, mood, timestamp, content_hash, tags_csv, event_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			content = excluded.content,
			date = excluded.date,
			mood = excluded.mood,
			timestamp = excluded.timestamp,
			content_hash = excluded.content_hash,
			tags_csv = excluded.tags_csv,
			event_date = excluded.event_date`,
		rec.ID, blob, rec.Content, rec.Date, rec.Mood, rec.Timestamp, rec.ContentHash, rec.TagsCSV, rec.EventDate,
	)
	if err != nil {
		return fmt.Errorf("sqlitevec: upsert: %w", err)
	}
	return nil
}

// Search scans all rows in the date window and returns the limit closest by
// cosine distance.
func (s *Store) Search(ctx context.Context, vec []float32, limit int, dateFrom, dateTo string) ([]memory.VectorResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT embedding, content, COALESCE(date, ''), COALESCE(mood, ''),
		       COALESCE(timestamp, ''), COALESCE(content_hash, '')
		FROM vectors
		WHERE (? = '' OR date >= ?) AND (? = '' OR date <= ?)`,
		dateFrom, dateFrom, dateTo, dateTo)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: search: %w", err)
	}
	defer rows.Close()

	results := []memory.VectorResult{}
	for rows.Next() {
		var blob []byte
		var r memory.VectorResult
		if err := rows.Scan(&blob, &r.Content, &r.Date, &r.Mood, &r.Timestamp, &r.ContentHash); err != nil {
			return nil, fmt.Errorf("sqlitevec: search: scan: %w", err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlitevec: search: %w", err)
		}
		r.Distance = vector.CosineDistance(vec, stored)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitevec: search: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitevec: count: %w", err)
	}
	return n, nil
}

// encodeVector serializes a vector as a little-endian int32 length prefix
// followed by the float32 components.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("decode vector: blob too short (%d bytes)", len(buf))
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if len(buf) != 4+4*n {
		return nil, fmt.Errorf("decode vector: length prefix %d does not match %d bytes", n, len(buf)-4)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+4*i:]))
	}
	return vec, nil
}
