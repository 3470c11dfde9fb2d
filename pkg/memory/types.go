package memory

import (
	"crypto/sha256"
	"encoding/hex"
)

// Entity type labels produced by extraction. Unknown labels are preserved
// verbatim; these are the vocabulary the extractors are asked to use.
const (
	EntityPerson  = "PERSON"
	EntityPlace   = "PLACE"
	EntityEvent   = "EVENT"
	EntityEmotion = "EMOTION"
	EntityTopic   = "TOPIC"
	EntityProduct = "PRODUCT"
)

// Relationship type labels. TOPICAL is the default when an extractor emits an
// edge without a recognised type.
const (
	RelCausal    = "CAUSAL"
	RelEmotional = "EMOTIONAL"
	RelTemporal  = "TEMPORAL"
	RelTopical   = "TOPICAL"
	RelInvolves  = "INVOLVES"
)

// Retrieval leg identifiers carried on every [SearchResult].
const (
	SourceBM25   = "bm25"
	SourceVector = "vector"
	SourceGraph  = "graph"
)

// Timeline sort keys.
const (
	SortProcessingTime = "processing_time"
	SortEventTime      = "event_time"
)

// HashContent returns the hex-encoded SHA-256 digest of text. The digest is
// the universal identity of a memory: the keyword store enforces uniqueness
// on it, the vector index derives its record ID from it, and every graph edge
// carries it so results can be hydrated back to their source entry.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// VectorID derives the ANN record identifier from a content hash: its first
// 16 hex characters. 64 bits of collision space is plenty for a
// personal-memory corpus.
func VectorID(contentHash string) string {
	if len(contentHash) < 16 {
		return contentHash
	}
	return contentHash[:16]
}

// Document is the indexable projection of a memory entry handed to the
// keyword and vector indexes. Temporal fields are strings in the formats they
// are stored in: Date and EventDate are YYYY-MM-DD, Timestamp is RFC 3339
// with the configured zone's fixed offset.
type Document struct {
	// Content is the memory text, verbatim.
	Content string

	// Date is the processing date, i.e. "today" in the configured timezone
	// at the moment the entry was saved.
	Date string

	// Timestamp is the full save instant.
	Timestamp string

	// Mood is an optional free-form mood label.
	Mood string

	// Tags are optional labels, order preserved.
	Tags []string

	// ContentHash is the hex SHA-256 of Content. See [HashContent].
	ContentHash string

	// EventDate is the date the described event happened, when the
	// extractor could determine one. Empty otherwise.
	EventDate string
}

// FTSResult is a BM25 hit from the keyword index. Rank is exposed as a
// positive higher-is-better score (SQLite's native rank is negative).
type FTSResult struct {
	RowID       int64
	Content     string
	Date        string
	Mood        string
	Timestamp   string
	ContentHash string
	Rank        float64
}

// VectorResult is an ANN hit. Distance is cosine distance in [0, 2]; callers
// convert to similarity as max(0, 1-Distance).
type VectorResult struct {
	Content     string
	Date        string
	Mood        string
	Timestamp   string
	ContentHash string
	Distance    float64
}

// SearchResult is the unified result shape every retrieval leg emits and the
// fuser consumes. Score semantics differ per leg before fusion (normalised
// BM25, cosine similarity, edge weight) and become the RRF sum after.
type SearchResult struct {
	Content     string  `json:"content"`
	Date        string  `json:"date,omitempty"`
	Mood        string  `json:"mood,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Score       float64 `json:"score"`
	Source      string  `json:"source"`
	ContentHash string  `json:"content_hash,omitempty"`
}

// Entity is a named thing mentioned in a memory, as produced by extraction.
type Entity struct {
	// Name is case-preserving. Graph identity is case-insensitive, with
	// the first-seen casing winning.
	Name string `json:"name"`

	// Type is one of the Entity* labels above.
	Type string `json:"type"`
}

// Relationship is a directed, typed edge between two extracted entities.
type Relationship struct {
	Source  string  `json:"source"`
	Target  string  `json:"target"`
	RelType string  `json:"type"`
	Weight  float64 `json:"weight"`

	// Evidence is a short quote from the memory supporting the edge. It
	// doubles as the displayed content for graph results whose source
	// memory cannot be hydrated.
	Evidence string `json:"evidence"`
}

// Extraction is the structured output of an extractor: everything the
// knowledge graph learns from one memory entry.
type Extraction struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`

	// EventDate is the YYYY-MM-DD date the entry's events happened, when
	// determinable from the text. Empty otherwise.
	EventDate string `json:"event_time"`
}

// GraphNode is a stored entity node.
type GraphNode struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	MentionCount int    `json:"mention_count"`
	FirstSeen    string `json:"first_seen,omitempty"`
	LastSeen     string `json:"last_seen,omitempty"`
}

// GraphEdge is a stored relationship edge, including the provenance fields
// the write path attaches on upsert.
type GraphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	RelType    string  `json:"type"`
	Weight     float64 `json:"weight"`
	Evidence   string  `json:"evidence,omitempty"`
	EventDate  string  `json:"event_time,omitempty"`
	SourceHash string  `json:"source_hash,omitempty"`
}

// GraphResult is the answer to a traversal or path query.
type GraphResult struct {
	// Center is the resolved starting entity for traversals, empty for
	// path queries.
	Center string `json:"center,omitempty"`

	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`

	// Paths holds node-name sequences for path queries, most direct first.
	Paths [][]string `json:"paths,omitempty"`
}
