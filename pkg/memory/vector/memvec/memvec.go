// Package memvec is the ephemeral in-process [vector.Backend]: a mutex-held
// map scanned brute force. It is the terminal rung of the vector fallback
// ladder and the backend of choice in tests.
package memvec

import (
	"context"
	"sort"
	"sync"

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/memory/vector"
)

var _ vector.Backend = (*Store)(nil)

// Store holds records in memory. The zero value is not usable; call [New].
type Store struct {
	mu      sync.RWMutex
	records map[string]vector.Record
}

// New returns an empty in-memory backend.
func New() *Store {
	return &Store{records: make(map[string]vector.Record)}
}

// Has reports whether id is stored.
func (s *Store) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

// Upsert stores rec, replacing any record with the same ID.
func (s *Store) Upsert(_ context.Context, rec vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

// Search scans every stored record, filters by processing date and returns
// the limit closest by cosine distance.
func (s *Store) Search(_ context.Context, vec []float32, limit int, dateFrom, dateTo string) ([]memory.VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []memory.VectorResult{}
	for _, rec := range s.records {
		if dateFrom != "" && rec.Date < dateFrom {
			continue
		}
		if dateTo != "" && rec.Date > dateTo {
			continue
		}
		results = append(results, memory.VectorResult{
			Content:     rec.Content,
			Date:        rec.Date,
			Mood:        rec.Mood,
			Timestamp:   rec.Timestamp,
			ContentHash: rec.ContentHash,
			Distance:    vector.CosineDistance(vec, rec.Vector),
		})
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
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
