// Package search implements the three retrieval legs over the memory
// backends and the reciprocal-rank fuser that merges them.
//
// Every leg emits the unified [memory.SearchResult] shape with leg-local
// scores; [Fuse] replaces those with RRF sums, so cross-leg score scales
// never need to be comparable.
package search

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/phucnt/kioku/pkg/memory"
)

// Lexical runs the BM25 leg. Ranks are normalised against the best hit so
// the leg's scores land in (0, 1].
func Lexical(ctx context.Context, kw memory.KeywordIndex, query string, limit int) ([]memory.SearchResult, error) {
	hits, err := kw.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]memory.SearchResult, 0, len(hits))
	best := 0.0
	if len(hits) > 0 {
		best = hits[0].Rank
	}
	for _, h := range hits {
		score := 1.0
		if best > 0 {
			score = h.Rank / best
		}
		results = append(results, memory.SearchResult{
			Content:     h.Content,
			Date:        h.Date,
			Mood:        h.Mood,
			Timestamp:   h.Timestamp,
			Score:       score,
			Source:      memory.SourceBM25,
			ContentHash: h.ContentHash,
		})
	}
	return results, nil
}

// Semantic runs the vector leg, converting cosine distance to the
// similarity max(0, 1-distance).
func Semantic(ctx context.Context, vix memory.VectorIndex, query string, limit int, dateFrom, dateTo string) ([]memory.SearchResult, error) {
	hits, err := vix.Search(ctx, query, limit, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	results := make([]memory.SearchResult, 0, len(hits))
	for _, h := range hits {
		sim := 1 - h.Distance
		if sim < 0 {
			sim = 0
		}
		results = append(results, memory.SearchResult{
			Content:     h.Content,
			Date:        h.Date,
			Mood:        h.Mood,
			Timestamp:   h.Timestamp,
			Score:       sim,
			Source:      memory.SourceVector,
			ContentHash: h.ContentHash,
		})
	}
	return results, nil
}

// maxGraphSeeds caps how many entity nodes a single query may traverse
// from.
const maxGraphSeeds = 5

// graphHops is the traversal depth of the graph leg.
const graphHops = 2

// Graph runs the knowledge-graph leg. With explicit entities the seeds come
// straight from entity lookups; otherwise the query is tokenized and every
// informative token seeds a lookup. The most-mentioned seeds are traversed
// and their edges become results: the edge evidence as content, the edge
// weight as score, the source hash linking back to the memory that asserted
// the edge.
func Graph(ctx context.Context, gix memory.GraphIndex, query string, entities []string, limit int) ([]memory.SearchResult, error) {
	terms := entities
	if len(terms) == 0 {
		terms = tokenize(query)
	}

	// First-wins per node name: a node found by several terms seeds once.
	seen := map[string]memory.GraphNode{}
	order := []string{}
	for _, term := range terms {
		nodes, err := gix.SearchEntities(ctx, term, 3)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			key := strings.ToLower(n.Name)
			if _, ok := seen[key]; !ok {
				seen[key] = n
				order = append(order, key)
			}
		}
	}

	seeds := make([]memory.GraphNode, 0, len(order))
	for _, key := range order {
		seeds = append(seeds, seen[key])
	}
	sort.SliceStable(seeds, func(i, j int) bool {
		return seeds[i].MentionCount > seeds[j].MentionCount
	})
	if len(seeds) > maxGraphSeeds {
		seeds = seeds[:maxGraphSeeds]
	}

	results := []memory.SearchResult{}
	seenEdge := map[string]bool{}
	for _, seed := range seeds {
		sub, err := gix.Traverse(ctx, seed.Name, graphHops, limit)
		if err != nil {
			return nil, err
		}
		for _, e := range sub.Edges {
			key := e.SourceHash
			if key == "" {
				key = e.Evidence
			}
			if key == "" || seenEdge[key] {
				continue
			}
			seenEdge[key] = true
			results = append(results, memory.SearchResult{
				Content:     e.Evidence,
				Date:        e.EventDate,
				Score:       e.Weight,
				Source:      memory.SourceGraph,
				ContentHash: e.SourceHash,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// rrfK is the standard reciprocal-rank-fusion dampening constant.
const rrfK = 60

// Fuse merges per-leg rankings with reciprocal rank fusion: each appearance
// contributes 1/(rrfK+rank+1), grouped by exact content string. The
// first-seen appearance is the representative; its score becomes the
// accumulated sum. Ordering is stable for equal scores.
func Fuse(legs [][]memory.SearchResult, limit int) []memory.SearchResult {
	type group struct {
		rep   memory.SearchResult
		score float64
	}
	groups := map[string]*group{}
	order := []string{}

	for _, leg := range legs {
		for rank, r := range leg {
			g, ok := groups[r.Content]
			if !ok {
				g = &group{rep: r}
				groups[r.Content] = g
				order = append(order, r.Content)
			}
			g.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]memory.SearchResult, 0, len(order))
	for _, content := range order {
		g := groups[content]
		g.rep.Score = g.score
		fused = append(fused, g.rep)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}

// stopwords are query tokens too common to seed graph lookups, in the two
// languages the journal is written in.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"with": true, "was": true, "is": true, "are": true, "for": true,
	"my": true, "me": true, "we": true, "it": true, "had": true,
	"have": true, "that": true, "this": true, "about": true,
	"what": true, "when": true, "how": true, "did": true, "do": true,
	"và": true, "của": true, "là": true, "có": true, "tôi": true,
	"mình": true, "hôm": true, "nay": true, "đã": true, "với": true,
	"cho": true, "một": true, "không": true, "được": true, "ở": true,
}

// tokenize splits on Unicode word boundaries, lowercases, and drops
// stopwords and single characters.
func tokenize(query string) []string {
	raw := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := []string{}
	for _, t := range raw {
		t = strings.ToLower(t)
		if len([]rune(t)) < 2 || stopwords[t] {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}
