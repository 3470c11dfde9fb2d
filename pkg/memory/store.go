// Package memory defines the tri-hybrid memory architecture used by Kioku.
//
// One written entry is projected into three synchronized index
// representations, all keyed by the entry's content hash:
//
//   - Keyword index ([KeywordIndex]): the authoritative relational store plus
//     a BM25 full-text index. It is the hydration source for results coming
//     back from the other two legs.
//   - Vector index ([VectorIndex]): embedding-based similarity search. Record
//     IDs are derived from the content hash via [VectorID].
//   - Knowledge graph ([GraphIndex]): named entities and typed relationships
//     extracted from the entry; every edge carries the source content hash.
//
// All interfaces are public so that external packages can supply alternative
// backends (SQLite, Qdrant, FalkorDB, in-memory, …) without depending on
// kioku internals.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// ─────────────────────────────────────────────────────────────────────────────
// Keyword index
// ─────────────────────────────────────────────────────────────────────────────

// KeywordIndex is the authoritative memory store: a relational table of
// documents with a BM25 full-text index over their content.
//
// Documents are identified by their ContentHash; Index must be idempotent
// with respect to it. Implementations must be safe for concurrent use.
type KeywordIndex interface {
	// Index stores doc and returns its new row ID. Inserting a document
	// whose ContentHash is already present is not an error: Index returns
	// -1 and leaves the store unchanged.
	Index(ctx context.Context, doc Document) (int64, error)

	// Search performs a BM25 full-text query over document content.
	// Results are ordered best match first with Rank exposed as a positive
	// higher-is-better score.
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, query string, limit int) ([]FTSResult, error)

	// GetByHashes fetches documents by content hash in one round trip.
	// Hashes with no stored document are absent from the returned map.
	GetByHashes(ctx context.Context, hashes []string) (map[string]Document, error)

	// GetByDate returns all documents whose processing date equals date
	// (YYYY-MM-DD), in insertion order.
	GetByDate(ctx context.Context, date string) ([]Document, error)

	// Timeline returns documents within the inclusive [start, end] date
	// window, newest first by the chosen sort key. sortBy is
	// [SortProcessingTime] or [SortEventTime]; with SortEventTime,
	// documents lacking an event date fall back to their processing date.
	// Empty start or end leaves that bound open.
	Timeline(ctx context.Context, start, end string, limit int, sortBy string) ([]Document, error)

	// Dates returns every distinct processing date present in the store,
	// newest first.
	Dates(ctx context.Context) ([]string, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying store.
	Close() error
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector index
// ─────────────────────────────────────────────────────────────────────────────

// VectorIndex is the semantic retrieval leg: embedding-based similarity
// search over whole memory entries.
//
// Implementations own their embedding provider; callers hand over plain text.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Add embeds doc.Content and stores it under [VectorID] of its
	// ContentHash together with its metadata. Adding a document whose ID
	// is already present is a no-op, not an error.
	Add(ctx context.Context, doc Document) error

	// Search embeds query and returns the limit nearest stored documents
	// by cosine distance, closest first. A non-empty dateFrom/dateTo
	// bounds results by processing date, inclusive, applied inside the
	// index rather than by post-filtering. An empty index returns an
	// empty slice without invoking the embedder.
	Search(ctx context.Context, query string, limit int, dateFrom, dateTo string) ([]VectorResult, error)

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge graph
// ─────────────────────────────────────────────────────────────────────────────

// GraphIndex is the relational-knowledge leg: a graph of [GraphNode] entities
// connected by typed, weighted [GraphEdge] relationships.
//
// Entity identity is the case-insensitive name; the casing first seen is
// preserved for display. Upserts never fail on duplicates: re-mentioning an
// entity bumps its mention count and last-seen date, re-asserting an edge
// smooths its weight towards the new observation and refreshes its
// provenance.
//
// Implementations must be safe for concurrent use.
type GraphIndex interface {
	// Upsert merges one extraction into the graph: every entity node and
	// every relationship edge, with edges stamped with ex.EventDate (or
	// processingDate when empty) and sourceHash.
	// Edges whose endpoints are unknown entities still create the nodes.
	Upsert(ctx context.Context, ex Extraction, processingDate, sourceHash string) error

	// SearchEntities finds nodes whose name contains name
	// (case-insensitive), ordered by mention count descending.
	// Returns an empty (non-nil) slice when nothing matches.
	SearchEntities(ctx context.Context, name string, limit int) ([]GraphNode, error)

	// Traverse resolves entity to a node (exact case-insensitive match,
	// then best substring match) and walks edges in either direction up to
	// maxHops, returning the reachable subgraph capped at limit nodes.
	// An unresolvable entity yields an empty result, not an error.
	Traverse(ctx context.Context, entity string, maxHops, limit int) (*GraphResult, error)

	// FindPath returns the shortest path between two entities following
	// directed edges up to 5 hops, falling back to an undirected search
	// when no directed path exists. No path yields an empty result.
	FindPath(ctx context.Context, from, to string) (*GraphResult, error)

	// CanonicalEntities returns the limit most-mentioned nodes. The write
	// path feeds these to the extractor so recurring names resolve to
	// their canonical casing.
	CanonicalEntities(ctx context.Context, limit int) ([]GraphNode, error)

	// Close releases the underlying store.
	Close() error
}
