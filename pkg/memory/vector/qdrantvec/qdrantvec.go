// Package qdrantvec is the server [vector.Backend]: a Qdrant collection
// reached over gRPC.
//
// Point IDs are the numeric form of the 16-hex-digit vector ID, so the same
// memory always maps to the same point regardless of which process wrote it.
// Payloads carry the search-hit metadata plus date_num, the processing date
// as a yyyymmdd integer, which lets the date window run as a native Range
// filter inside Qdrant instead of post-filtering on the client.
package qdrantvec

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/memory/vector"
)

var _ vector.Backend = (*Store)(nil)

// Store is a Qdrant-backed vector store scoped to one collection.
type Store struct {
	client     *qdrant.Client
	collection string

	ensureMu sync.Mutex
	ensured  bool
}

// Open connects to Qdrant and verifies the server is reachable. The
// collection itself is created lazily on first write, when the vector
// dimension is known.
func Open(ctx context.Context, host string, port int, collection string) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("qdrantvec: connect: %w", err)
	}
	if _, err := client.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrantvec: health check: %w", memory.ErrTransient)
	}
	return &Store{client: client, collection: collection}, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// ensureCollection creates the collection on first use with the given
// dimension and cosine distance.
func (s *Store) ensureCollection(ctx context.Context, dim int) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("collection exists: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	s.ensured = true
	return nil
}

// pointID converts a 16-hex-digit vector ID to a numeric Qdrant point ID.
func pointID(id string) (*qdrant.PointId, error) {
	n, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("point id %q: %w", id, memory.ErrInvalidInput)
	}
	return qdrant.NewIDNum(n), nil
}

// dateNum converts a YYYY-MM-DD date to its yyyymmdd integer, or 0 for
// anything unparseable.
func dateNum(date string) int64 {
	if len(date) != 10 {
		return 0
	}
	n, err := strconv.ParseInt(date[:4]+date[5:7]+date[8:10], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Has reports whether a point with the given ID is stored. A missing
// collection counts as not stored.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("qdrantvec: has: %w", err)
	}
	if !exists {
		return false, nil
	}

	pid, err := pointID(id)
	if err != nil {
		return false, fmt.Errorf("qdrantvec: has: %w", err)
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pid},
	})
	if err != nil {
		return false, fmt.Errorf("qdrantvec: has: %w", err)
	}
	return len(points) > 0, nil
}

// Upsert stores rec, creating the collection on first write.
func (s *Store) Upsert(ctx context.Context, rec vector.Record) error {
	if err := s.ensureCollection(ctx, len(rec.Vector)); err != nil {
		return fmt.Errorf("qdrantvec: upsert: %w", err)
	}

	pid, err := pointID(rec.ID)
	if err != nil {
		return fmt.Errorf("qdrantvec: upsert: %w", err)
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pid,
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content":      rec.Content,
				"date":         rec.Date,
				"date_num":     dateNum(rec.Date),
				"mood":         rec.Mood,
				"timestamp":    rec.Timestamp,
				"content_hash": rec.ContentHash,
				"tags_csv":     rec.TagsCSV,
				"event_date":   rec.EventDate,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrantvec: upsert: %w", err)
	}
	return nil
}

// Search runs a nearest-neighbour query with the date window as a server-side
// Range filter over date_num. Qdrant reports cosine similarity; the result
// distance is 1 - similarity.
func (s *Store) Search(ctx context.Context, vec []float32, limit int, dateFrom, dateTo string) ([]memory.VectorResult, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("qdrantvec: search: %w", err)
	}
	if !exists {
		return []memory.VectorResult{}, nil
	}

	var filter *qdrant.Filter
	if dateFrom != "" || dateTo != "" {
		rng := &qdrant.Range{}
		if dateFrom != "" {
			rng.Gte = qdrant.PtrOf(float64(dateNum(dateFrom)))
		}
		if dateTo != "" {
			rng.Lte = qdrant.PtrOf(float64(dateNum(dateTo)))
		}
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewRange("date_num", rng)},
		}
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrantvec: search: %w", err)
	}

	results := make([]memory.VectorResult, 0, len(points))
	for _, p := range points {
		results = append(results, memory.VectorResult{
			Content:     payloadString(p.Payload, "content"),
			Date:        payloadString(p.Payload, "date"),
			Mood:        payloadString(p.Payload, "mood"),
			Timestamp:   payloadString(p.Payload, "timestamp"),
			ContentHash: payloadString(p.Payload, "content_hash"),
			Distance:    1 - float64(p.Score),
		})
	}
	return results, nil
}

// Count returns the exact number of stored points, 0 when the collection
// does not exist yet.
func (s *Store) Count(ctx context.Context) (int, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("qdrantvec: count: %w", err)
	}
	if !exists {
		return 0, nil
	}

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrantvec: count: %w", err)
	}
	return int(n), nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if payload == nil {
		return ""
	}
	return payload[key].GetStringValue()
}
