// Package service orchestrates the memory pipeline: the ordered write path
// across markdown log and the three indexes, and the fan-out read path with
// reciprocal-rank fusion.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phucnt/kioku/internal/markdown"
	"github.com/phucnt/kioku/internal/observe"
	"github.com/phucnt/kioku/internal/search"
	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/provider/extract"
)

// contextEntityLimit is how many canonical entities are handed to the
// extractor as disambiguation context.
const contextEntityLimit = 50

// Timeouts bounds each backend call independently. Zero fields take the
// defaults below.
type Timeouts struct {
	Extractor time.Duration
	Keyword   time.Duration
	Vector    time.Duration
	Graph     time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Extractor <= 0 {
		t.Extractor = 10 * time.Second
	}
	if t.Keyword <= 0 {
		t.Keyword = time.Second
	}
	if t.Vector <= 0 {
		t.Vector = 2 * time.Second
	}
	if t.Graph <= 0 {
		t.Graph = 2 * time.Second
	}
	return t
}

// Service is the per-process memory pipeline. All methods are safe for
// concurrent use; no lock is held across a backend call.
type Service struct {
	log       *markdown.Log
	keyword   memory.KeywordIndex
	vector    memory.VectorIndex
	graph     memory.GraphIndex
	extractor extract.Extractor
	metrics   *observe.Metrics
	timeouts  Timeouts
	loc       *time.Location
	now       func() time.Time
}

// Option adjusts a [Service] at construction.
type Option func(*Service)

// WithTimeouts overrides the per-backend deadlines.
func WithTimeouts(t Timeouts) Option {
	return func(s *Service) { s.timeouts = t }
}

// WithLocation sets the timezone used to stamp new memories.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithMetrics attaches a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New assembles a Service over the given backends.
func New(log *markdown.Log, kw memory.KeywordIndex, vix memory.VectorIndex, gix memory.GraphIndex, ex extract.Extractor, opts ...Option) *Service {
	s := &Service{
		log:       log,
		keyword:   kw,
		vector:    vix,
		graph:     gix,
		extractor: ex,
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timeouts = s.timeouts.withDefaults()
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Write path
// ─────────────────────────────────────────────────────────────────────────────

// SaveResult reports what a save recorded.
type SaveResult struct {
	// Status is "saved" or "duplicate".
	Status string `json:"status"`

	Timestamp      string `json:"timestamp"`
	ProcessingDate string `json:"processing_date"`
	EventDate      string `json:"event_date,omitempty"`
	ContentHash    string `json:"content_hash"`
}

// Save records one memory. The markdown append is the durable step: its
// failure fails the save. Extraction, graph, keyword and vector failures
// are logged and swallowed, because every index can be rebuilt from the
// markdown log later.
func (s *Service) Save(ctx context.Context, text, mood string, tags []string) (SaveResult, error) {
	started := s.now()
	if strings.TrimSpace(text) == "" {
		return SaveResult{}, fmt.Errorf("service: save: empty text: %w", memory.ErrInvalidInput)
	}

	now := s.now().In(s.loc)
	timestamp := now.Format(time.RFC3339)
	date := now.Format("2006-01-02")
	hash := memory.HashContent(text)

	// Known entities give the extractor canonical casings to reuse.
	var contextEntities []memory.GraphNode
	{
		gctx, cancel := context.WithTimeout(ctx, s.timeouts.Graph)
		ents, err := s.graph.CanonicalEntities(gctx, contextEntityLimit)
		cancel()
		if err != nil {
			slog.Warn("canonical entity lookup failed", "error", err)
			s.metrics.RecordBackendError(ctx, "graph", "canonical_entities")
		} else {
			contextEntities = ents
		}
	}

	var ex memory.Extraction
	{
		ectx, cancel := context.WithTimeout(ctx, s.timeouts.Extractor)
		extractStart := s.now()
		extracted, err := s.extractor.Extract(ectx, text, contextEntities, date)
		s.metrics.RecordExtraction(ctx, s.now().Sub(extractStart))
		cancel()
		if err != nil {
			slog.Warn("extraction failed, saving without graph enrichment", "error", err)
			s.metrics.RecordBackendError(ctx, "extractor", "extract")
		} else {
			ex = extracted
		}
	}

	{
		gctx, cancel := context.WithTimeout(ctx, s.timeouts.Graph)
		err := s.graph.Upsert(gctx, ex, date, hash)
		cancel()
		if err != nil {
			slog.Warn("graph upsert failed", "error", err)
			s.metrics.RecordBackendError(ctx, "graph", "upsert")
		}
	}

	doc := memory.Document{
		Content:     text,
		Date:        date,
		Timestamp:   timestamp,
		Mood:        mood,
		Tags:        tags,
		ContentHash: hash,
		EventDate:   ex.EventDate,
	}

	if err := s.log.Append(doc); err != nil {
		s.metrics.RecordSave(ctx, s.now().Sub(started), "error")
		return SaveResult{}, fmt.Errorf("service: save: %w", err)
	}

	status := "saved"
	{
		kctx, cancel := context.WithTimeout(ctx, s.timeouts.Keyword)
		id, err := s.keyword.Index(kctx, doc)
		cancel()
		switch {
		case err != nil:
			slog.Warn("keyword index failed", "error", err)
			s.metrics.RecordBackendError(ctx, "keyword", "index")
		case id == -1:
			status = "duplicate"
		}
	}

	{
		vctx, cancel := context.WithTimeout(ctx, s.timeouts.Vector)
		err := s.vector.Add(vctx, doc)
		cancel()
		if err != nil {
			slog.Warn("vector index failed", "error", err)
			s.metrics.RecordBackendError(ctx, "vector", "add")
		}
	}

	s.metrics.RecordSave(ctx, s.now().Sub(started), status)
	return SaveResult{
		Status:         status,
		Timestamp:      timestamp,
		ProcessingDate: date,
		EventDate:      ex.EventDate,
		ContentHash:    hash,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read path
// ─────────────────────────────────────────────────────────────────────────────

// SearchResponse is the fused, hydrated answer to one search.
type SearchResponse struct {
	Query   string                `json:"query"`
	Count   int                   `json:"count"`
	Results []memory.SearchResult `json:"results"`
}

// Search fans the query out to the BM25, vector and graph legs in parallel,
// fuses with reciprocal rank fusion, applies the optional inclusive date
// window, and hydrates results from the keyword store by content hash.
//
// With entities supplied, the graph leg seeds from them directly, the
// keyword leg queries the joined entity names, and the vector leg keeps
// only results mentioning one of them.
func (s *Service) Search(ctx context.Context, query string, limit int, dateFrom, dateTo string, entities []string) (SearchResponse, error) {
	started := s.now()
	if strings.TrimSpace(query) == "" && len(entities) == 0 {
		return SearchResponse{}, fmt.Errorf("service: search: empty query: %w", memory.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 5
	}
	perLeg := 3 * limit

	keywordQuery := stripPunct(query)
	if len(entities) > 0 {
		keywordQuery = strings.Join(entities, " ")
	}

	var lexical, semantic, relational []memory.SearchResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		legStart := s.now()
		kctx, cancel := context.WithTimeout(gctx, s.timeouts.Keyword)
		defer cancel()
		results, err := search.Lexical(kctx, s.keyword, keywordQuery, perLeg)
		s.metrics.RecordLeg(ctx, memory.SourceBM25, s.now().Sub(legStart))
		if err != nil {
			slog.Warn("keyword leg failed", "error", err)
			s.metrics.RecordBackendError(ctx, "keyword", "search")
			return nil
		}
		lexical = results
		return nil
	})

	g.Go(func() error {
		legStart := s.now()
		vctx, cancel := context.WithTimeout(gctx, s.timeouts.Vector)
		defer cancel()
		vectorLimit := perLeg
		if len(entities) > 0 {
			vectorLimit = 5 * limit
		}
		results, err := search.Semantic(vctx, s.vector, query, vectorLimit, dateFrom, dateTo)
		s.metrics.RecordLeg(ctx, memory.SourceVector, s.now().Sub(legStart))
		if err != nil {
			slog.Warn("vector leg failed", "error", err)
			s.metrics.RecordBackendError(ctx, "vector", "search")
			return nil
		}
		if len(entities) > 0 {
			results = filterByEntities(results, entities)
		}
		semantic = results
		return nil
	})

	g.Go(func() error {
		legStart := s.now()
		gctx2, cancel := context.WithTimeout(gctx, s.timeouts.Graph)
		defer cancel()
		results, err := search.Graph(gctx2, s.graph, query, entities, perLeg)
		s.metrics.RecordLeg(ctx, memory.SourceGraph, s.now().Sub(legStart))
		if err != nil {
			slog.Warn("graph leg failed", "error", err)
			s.metrics.RecordBackendError(ctx, "graph", "search")
			return nil
		}
		relational = results
		return nil
	})

	// Legs degrade to empty on failure, so Wait cannot return an error.
	_ = g.Wait()

	fused := search.Fuse([][]memory.SearchResult{lexical, semantic, relational}, limit)
	fused = filterDateWindow(fused, dateFrom, dateTo)
	s.hydrate(ctx, fused)

	s.metrics.RecordSearch(ctx, s.now().Sub(started), "ok")
	return SearchResponse{Query: query, Count: len(fused), Results: fused}, nil
}

// hydrate overwrites each result's content, date and mood with the
// authoritative keyword row for its content hash. Results that do not
// hydrate pass through unchanged.
func (s *Service) hydrate(ctx context.Context, results []memory.SearchResult) {
	hashes := []string{}
	seen := map[string]bool{}
	for _, r := range results {
		if r.ContentHash != "" && !seen[r.ContentHash] {
			seen[r.ContentHash] = true
			hashes = append(hashes, r.ContentHash)
		}
	}
	if len(hashes) == 0 {
		return
	}

	kctx, cancel := context.WithTimeout(ctx, s.timeouts.Keyword)
	defer cancel()
	docs, err := s.keyword.GetByHashes(kctx, hashes)
	if err != nil {
		slog.Warn("hydration failed", "error", err)
		s.metrics.RecordBackendError(ctx, "keyword", "get_by_hashes")
		return
	}
	for i := range results {
		doc, ok := docs[results[i].ContentHash]
		if !ok {
			continue
		}
		results[i].Content = doc.Content
		results[i].Date = doc.Date
		results[i].Mood = doc.Mood
		if results[i].Timestamp == "" {
			results[i].Timestamp = doc.Timestamp
		}
	}
}

// RecallResult is a traversal plus the memories its edges came from.
type RecallResult struct {
	Entity string `json:"entity"`

	// ConnectedCount is the number of distinct connected nodes.
	ConnectedCount int `json:"connected_count"`

	Graph    *memory.GraphResult `json:"graph"`
	Memories []memory.Document   `json:"memories"`
}

// RecallRelated traverses the graph around an entity and hydrates the
// source memory of every reached edge, deduplicated by source hash.
func (s *Service) RecallRelated(ctx context.Context, entity string, maxHops, limit int) (RecallResult, error) {
	if strings.TrimSpace(entity) == "" {
		return RecallResult{}, fmt.Errorf("service: recall: empty entity: %w", memory.ErrInvalidInput)
	}
	if maxHops <= 0 {
		maxHops = 2
	}
	if limit <= 0 {
		limit = 20
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeouts.Graph)
	sub, err := s.graph.Traverse(gctx, entity, maxHops, limit)
	cancel()
	if err != nil {
		return RecallResult{}, fmt.Errorf("service: recall: %w", err)
	}

	connected := 0
	for _, n := range sub.Nodes {
		if !strings.EqualFold(n.Name, sub.Center) {
			connected++
		}
	}
	return RecallResult{
		Entity:         entity,
		ConnectedCount: connected,
		Graph:          sub,
		Memories:       s.edgeMemories(ctx, sub.Edges),
	}, nil
}

// ConnectionResult is a path between two entities plus its evidence
// memories.
type ConnectionResult struct {
	From     string              `json:"from"`
	To       string              `json:"to"`
	Graph    *memory.GraphResult `json:"graph"`
	Memories []memory.Document   `json:"memories"`
}

// ExplainConnection finds the shortest path between two entities and
// hydrates the memories backing each edge on it.
func (s *Service) ExplainConnection(ctx context.Context, from, to string) (ConnectionResult, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return ConnectionResult{}, fmt.Errorf("service: explain: empty entity: %w", memory.ErrInvalidInput)
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeouts.Graph)
	path, err := s.graph.FindPath(gctx, from, to)
	cancel()
	if err != nil {
		return ConnectionResult{}, fmt.Errorf("service: explain: %w", err)
	}

	return ConnectionResult{
		From:     from,
		To:       to,
		Graph:    path,
		Memories: s.edgeMemories(ctx, path.Edges),
	}, nil
}

// edgeMemories hydrates the distinct source hashes of edges into full
// documents, preserving edge order.
func (s *Service) edgeMemories(ctx context.Context, edges []memory.GraphEdge) []memory.Document {
	hashes := []string{}
	seen := map[string]bool{}
	for _, e := range edges {
		if e.SourceHash != "" && !seen[e.SourceHash] {
			seen[e.SourceHash] = true
			hashes = append(hashes, e.SourceHash)
		}
	}
	if len(hashes) == 0 {
		return []memory.Document{}
	}

	kctx, cancel := context.WithTimeout(ctx, s.timeouts.Keyword)
	defer cancel()
	byHash, err := s.keyword.GetByHashes(kctx, hashes)
	if err != nil {
		slog.Warn("edge memory hydration failed", "error", err)
		s.metrics.RecordBackendError(ctx, "keyword", "get_by_hashes")
		return []memory.Document{}
	}

	docs := []memory.Document{}
	for _, h := range hashes {
		if doc, ok := byHash[h]; ok {
			docs = append(docs, doc)
		}
	}
	return docs
}

// ListEntities returns the most-mentioned graph entities.
func (s *Service) ListEntities(ctx context.Context, limit int) ([]memory.GraphNode, error) {
	if limit <= 0 {
		limit = 20
	}
	gctx, cancel := context.WithTimeout(ctx, s.timeouts.Graph)
	defer cancel()
	nodes, err := s.graph.CanonicalEntities(gctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service: list entities: %w", err)
	}
	return nodes, nil
}

// ListDates returns every date with stored memories, newest first.
func (s *Service) ListDates(ctx context.Context) ([]string, error) {
	kctx, cancel := context.WithTimeout(ctx, s.timeouts.Keyword)
	defer cancel()
	dates, err := s.keyword.Dates(kctx)
	if err != nil {
		return nil, fmt.Errorf("service: list dates: %w", err)
	}
	return dates, nil
}

// Timeline returns memories in the inclusive date window, oldest first.
// sortBy selects processing or event time as the ordering key.
func (s *Service) Timeline(ctx context.Context, start, end string, limit int, sortBy string) ([]memory.Document, error) {
	kctx, cancel := context.WithTimeout(ctx, s.timeouts.Keyword)
	defer cancel()
	docs, err := s.keyword.Timeline(kctx, start, end, limit, sortBy)
	if err != nil {
		return nil, fmt.Errorf("service: timeline: %w", err)
	}
	// The store returns newest first; readers want chronological order.
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
	return docs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Resources and prompt builders
// ─────────────────────────────────────────────────────────────────────────────

// ReadMemoryResource returns the raw markdown file for a date.
func (s *Service) ReadMemoryResource(date string) (string, error) {
	raw, err := s.log.Read(date)
	if err != nil {
		return "", fmt.Errorf("service: read memories: %w", err)
	}
	if raw == "" {
		return "No memories recorded on " + date + ".", nil
	}
	return raw, nil
}

// ReadEntityResource renders a text profile of one entity: its node data
// and every known relationship.
func (s *Service) ReadEntityResource(ctx context.Context, entity string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, s.timeouts.Graph)
	defer cancel()
	sub, err := s.graph.Traverse(gctx, entity, 1, 50)
	if err != nil {
		return "", fmt.Errorf("service: entity profile: %w", err)
	}
	if sub.Center == "" {
		return fmt.Sprintf("No entity found matching %q.", entity), nil
	}

	var b strings.Builder
	var center memory.GraphNode
	for _, n := range sub.Nodes {
		if strings.EqualFold(n.Name, sub.Center) {
			center = n
			break
		}
	}
	fmt.Fprintf(&b, "# %s (%s)\n\n", center.Name, center.Type)
	fmt.Fprintf(&b, "Mentioned %d times", center.MentionCount)
	if center.FirstSeen != "" {
		fmt.Fprintf(&b, ", first on %s, last on %s", center.FirstSeen, center.LastSeen)
	}
	b.WriteString(".\n")

	if len(sub.Edges) > 0 {
		b.WriteString("\n## Relationships\n")
		for _, e := range sub.Edges {
			fmt.Fprintf(&b, "- %s -[%s %.2f]-> %s", e.Source, e.RelType, e.Weight, e.Target)
			if e.Evidence != "" {
				fmt.Fprintf(&b, ": %s", e.Evidence)
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// ReflectOnDay builds a reflection prompt over today's entries.
func (s *Service) ReflectOnDay(ctx context.Context) (string, error) {
	date := s.now().In(s.loc).Format("2006-01-02")
	kctx, cancel := context.WithTimeout(ctx, s.timeouts.Keyword)
	docs, err := s.keyword.GetByDate(kctx, date)
	cancel()
	if err != nil {
		return "", fmt.Errorf("service: reflect: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are my memories from %s:\n\n", date)
	if len(docs) == 0 {
		b.WriteString("(no entries recorded today)\n")
	}
	for _, d := range docs {
		fmt.Fprintf(&b, "- %s", d.Content)
		if d.Mood != "" {
			fmt.Fprintf(&b, " (mood: %s)", d.Mood)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nHelp me reflect on this day. What patterns do you notice? What went well, and what weighed on me?")
	return b.String(), nil
}

// AnalyzeRelationships builds an analysis prompt around one entity.
func (s *Service) AnalyzeRelationships(ctx context.Context, entity string) (string, error) {
	profile, err := s.ReadEntityResource(ctx, entity)
	if err != nil {
		return "", fmt.Errorf("service: analyze: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here is everything my memory graph knows about %s:\n\n%s\n", entity, profile)
	b.WriteString("\nAnalyze this relationship. How does it affect me, based on the recorded evidence?")
	return b.String(), nil
}

// WeeklyReview builds a review prompt over the last seven days.
func (s *Service) WeeklyReview(ctx context.Context) (string, error) {
	now := s.now().In(s.loc)
	end := now.Format("2006-01-02")
	start := now.AddDate(0, 0, -6).Format("2006-01-02")

	docs, err := s.Timeline(ctx, start, end, 100, memory.SortProcessingTime)
	if err != nil {
		return "", fmt.Errorf("service: weekly review: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are my memories from %s to %s:\n\n", start, end)
	if len(docs) == 0 {
		b.WriteString("(no entries recorded this week)\n")
	}
	for _, d := range docs {
		fmt.Fprintf(&b, "[%s] %s", d.Date, d.Content)
		if d.Mood != "" {
			fmt.Fprintf(&b, " (mood: %s)", d.Mood)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nGive me a weekly review: main themes, emotional arc, and one suggestion for next week.")
	return b.String(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// stripPunct keeps letters, digits and spaces, collapsing everything else
// to single spaces.
func stripPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case isWordRune(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func isWordRune(r rune) bool {
	return r == ' ' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r > 127
}

// filterByEntities keeps results whose content mentions any entity,
// case-insensitively.
func filterByEntities(results []memory.SearchResult, entities []string) []memory.SearchResult {
	lowered := make([]string, len(entities))
	for i, e := range entities {
		lowered[i] = strings.ToLower(e)
	}
	kept := []memory.SearchResult{}
	for _, r := range results {
		content := strings.ToLower(r.Content)
		for _, e := range lowered {
			if e != "" && strings.Contains(content, e) {
				kept = append(kept, r)
				break
			}
		}
	}
	return kept
}

// filterDateWindow drops results whose processing date falls outside the
// inclusive window. Results with no date pass through.
func filterDateWindow(results []memory.SearchResult, from, to string) []memory.SearchResult {
	if from == "" && to == "" {
		return results
	}
	kept := results[:0:0]
	for _, r := range results {
		if r.Date == "" {
			kept = append(kept, r)
			continue
		}
		if from != "" && r.Date < from {
			continue
		}
		if to != "" && r.Date > to {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}
