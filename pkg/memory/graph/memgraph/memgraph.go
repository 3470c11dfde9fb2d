// Package memgraph is the in-process [memory.GraphIndex]: nodes in a map
// keyed by lowercased name, edges in a flat slice, everything behind one
// RWMutex. It is the terminal rung of the graph fallback ladder and the
// reference for the semantics the FalkorDB variant must match.
package memgraph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/phucnt/kioku/pkg/memory"
)

var _ memory.GraphIndex = (*Store)(nil)

type node struct {
	name         string // first-seen casing
	typ          string
	mentionCount int
	firstSeen    string
	lastSeen     string
}

type edge struct {
	src        string // lowercased
	dst        string // lowercased
	relType    string
	weight     float64
	evidence   string
	eventDate  string
	sourceHash string
}

// Store is an in-memory knowledge graph. Use [New].
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*node
	edges []*edge
}

// New returns an empty graph.
func New() *Store {
	return &Store{nodes: make(map[string]*node)}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Upsert merges one extraction into the graph under s.mu.
func (s *Store) Upsert(_ context.Context, ex memory.Extraction, processingDate, sourceHash string) error {
	eventDate := ex.EventDate
	if eventDate == "" {
		eventDate = processingDate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ent := range ex.Entities {
		if ent.Name == "" {
			continue
		}
		s.upsertNode(ent.Name, ent.Type, processingDate)
	}

	for _, rel := range ex.Relationships {
		if rel.Source == "" || rel.Target == "" {
			continue
		}
		// Endpoints mentioned only inside a relationship still become
		// nodes, with no mention credited.
		s.ensureNode(rel.Source)
		s.ensureNode(rel.Target)
		s.upsertEdge(rel, eventDate, sourceHash)
	}
	return nil
}

func (s *Store) upsertNode(name, typ, date string) {
	key := strings.ToLower(name)
	if n, ok := s.nodes[key]; ok {
		n.mentionCount++
		n.lastSeen = date
		return
	}
	s.nodes[key] = &node{
		name:         name,
		typ:          typ,
		mentionCount: 1,
		firstSeen:    date,
		lastSeen:     date,
	}
}

func (s *Store) ensureNode(name string) {
	key := strings.ToLower(name)
	if _, ok := s.nodes[key]; !ok {
		s.nodes[key] = &node{name: name}
	}
}

func (s *Store) upsertEdge(rel memory.Relationship, eventDate, sourceHash string) {
	src := strings.ToLower(rel.Source)
	dst := strings.ToLower(rel.Target)
	for _, e := range s.edges {
		if e.src == src && e.dst == dst && e.relType == rel.RelType {
			// Re-asserting smooths the weight towards the new
			// observation and refreshes provenance.
			e.weight = (e.weight + rel.Weight) / 2
			e.evidence = rel.Evidence
			e.eventDate = eventDate
			e.sourceHash = sourceHash
			return
		}
	}
	s.edges = append(s.edges, &edge{
		src:        src,
		dst:        dst,
		relType:    rel.RelType,
		weight:     rel.Weight,
		evidence:   rel.Evidence,
		eventDate:  eventDate,
		sourceHash: sourceHash,
	})
}

// SearchEntities finds nodes whose name contains name, case-insensitively,
// most mentioned first (name order breaks ties for determinism).
func (s *Store) SearchEntities(_ context.Context, name string, limit int) ([]memory.GraphNode, error) {
	needle := strings.ToLower(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := []memory.GraphNode{}
	for key, n := range s.nodes {
		if strings.Contains(key, needle) {
			matches = append(matches, toGraphNode(n))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].MentionCount != matches[j].MentionCount {
			return matches[i].MentionCount > matches[j].MentionCount
		}
		return matches[i].Name < matches[j].Name
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Traverse walks edges in either direction from the resolved entity.
func (s *Store) Traverse(_ context.Context, entity string, maxHops, limit int) (*memory.GraphResult, error) {
	if maxHops <= 0 {
		maxHops = 2
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := s.resolve(entity)
	if start == "" {
		return &memory.GraphResult{Nodes: []memory.GraphNode{}, Edges: []memory.GraphEdge{}}, nil
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	result := &memory.GraphResult{
		Center: s.nodes[start].name,
		Nodes:  []memory.GraphNode{toGraphNode(s.nodes[start])},
		Edges:  []memory.GraphEdge{},
	}
	seenEdge := map[*edge]bool{}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := []string{}
		for _, cur := range frontier {
			for _, e := range s.edges {
				var other string
				switch cur {
				case e.src:
					other = e.dst
				case e.dst:
					other = e.src
				default:
					continue
				}
				if !seenEdge[e] {
					seenEdge[e] = true
					result.Edges = append(result.Edges, s.toGraphEdge(e))
				}
				if visited[other] || len(result.Nodes) >= limit {
					continue
				}
				visited[other] = true
				result.Nodes = append(result.Nodes, toGraphNode(s.nodes[other]))
				next = append(next, other)
			}
		}
		frontier = next
	}
	return result, nil
}

// FindPath searches for the shortest directed path up to 5 hops, then
// undirected when no directed path exists.
func (s *Store) FindPath(_ context.Context, from, to string) (*memory.GraphResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	empty := &memory.GraphResult{Nodes: []memory.GraphNode{}, Edges: []memory.GraphEdge{}}
	a := s.resolve(from)
	b := s.resolve(to)
	if a == "" || b == "" {
		return empty, nil
	}

	path := s.shortestPath(a, b, 5, true)
	if path == nil {
		path = s.shortestPath(a, b, 5, false)
	}
	if path == nil {
		return empty, nil
	}

	result := &memory.GraphResult{Nodes: []memory.GraphNode{}, Edges: []memory.GraphEdge{}}
	names := make([]string, len(path))
	for i, key := range path {
		names[i] = s.nodes[key].name
		result.Nodes = append(result.Nodes, toGraphNode(s.nodes[key]))
	}
	result.Paths = [][]string{names}
	for i := 0; i+1 < len(path); i++ {
		if e := s.edgeBetween(path[i], path[i+1]); e != nil {
			result.Edges = append(result.Edges, s.toGraphEdge(e))
		}
	}
	return result, nil
}

// shortestPath runs BFS from a to b returning the node-key path, nil when
// none exists within maxHops.
func (s *Store) shortestPath(a, b string, maxHops int, directed bool) []string {
	if a == b {
		return []string{a}
	}
	parent := map[string]string{a: a}
	frontier := []string{a}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := []string{}
		for _, cur := range frontier {
			for _, e := range s.edges {
				var other string
				if e.src == cur {
					other = e.dst
				} else if !directed && e.dst == cur {
					other = e.src
				} else {
					continue
				}
				if _, seen := parent[other]; seen {
					continue
				}
				parent[other] = cur
				if other == b {
					path := []string{b}
					for n := b; n != a; n = parent[n] {
						path = append([]string{parent[n]}, path...)
					}
					return path
				}
				next = append(next, other)
			}
		}
		frontier = next
	}
	return nil
}

// edgeBetween returns an edge connecting the two keys in either direction.
func (s *Store) edgeBetween(a, b string) *edge {
	for _, e := range s.edges {
		if (e.src == a && e.dst == b) || (e.src == b && e.dst == a) {
			return e
		}
	}
	return nil
}

// CanonicalEntities returns the most-mentioned nodes.
func (s *Store) CanonicalEntities(_ context.Context, limit int) ([]memory.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]memory.GraphNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		all = append(all, toGraphNode(n))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].MentionCount != all[j].MentionCount {
			return all[i].MentionCount > all[j].MentionCount
		}
		return all[i].Name < all[j].Name
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// resolve maps a query string to a node key: exact case-insensitive match
// first, then the most-mentioned substring match.
func (s *Store) resolve(entity string) string {
	key := strings.ToLower(entity)
	if _, ok := s.nodes[key]; ok {
		return key
	}
	best := ""
	bestCount := -1
	for k, n := range s.nodes {
		if strings.Contains(k, key) && n.mentionCount > bestCount {
			best = k
			bestCount = n.mentionCount
		}
	}
	return best
}

func toGraphNode(n *node) memory.GraphNode {
	return memory.GraphNode{
		Name:         n.name,
		Type:         n.typ,
		MentionCount: n.mentionCount,
		FirstSeen:    n.firstSeen,
		LastSeen:     n.lastSeen,
	}
}

func (s *Store) toGraphEdge(e *edge) memory.GraphEdge {
	src, dst := e.src, e.dst
	if n, ok := s.nodes[src]; ok {
		src = n.name
	}
	if n, ok := s.nodes[dst]; ok {
		dst = n.name
	}
	return memory.GraphEdge{
		Source:     src,
		Target:     dst,
		RelType:    e.relType,
		Weight:     e.weight,
		Evidence:   e.evidence,
		EventDate:  e.eventDate,
		SourceHash: e.sourceHash,
	}
}
