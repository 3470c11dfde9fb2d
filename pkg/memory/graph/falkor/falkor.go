// Package falkor implements [memory.GraphIndex] on FalkorDB.
//
// FalkorDB speaks RESP, so the store rides on go-redis and issues Cypher
// through GRAPH.QUERY. All queries project scalars (or arrays of scalars)
// only, which keeps the verbose reply format trivial to parse: a reply is
// [header, rows, stats] with each row an array of scalar values.
package falkor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/phucnt/kioku/pkg/memory"
)

var _ memory.GraphIndex = (*Store)(nil)

// Store is a FalkorDB-backed knowledge graph scoped to one named graph.
type Store struct {
	client *redis.Client
	graph  string

	indexMu sync.Mutex
	indexed bool
}

// Open connects to FalkorDB and verifies it is reachable with a ping.
func Open(ctx context.Context, host string, port int, graph string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: net.JoinHostPort(host, strconv.Itoa(port)),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("falkor: ping %s:%d: %v: %w", host, port, err, memory.ErrTransient)
	}
	return &Store{client: client, graph: graph}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// query runs one Cypher statement and returns the result rows. Statements
// without a RETURN clause yield no rows.
func (s *Store) query(ctx context.Context, cypher string) ([][]any, error) {
	reply, err := s.client.Do(ctx, "GRAPH.QUERY", s.graph, cypher).Result()
	if err != nil {
		return nil, fmt.Errorf("graph.query: %w", err)
	}
	top, ok := asSlice(reply)
	if !ok || len(top) < 2 {
		return nil, nil
	}
	rawRows, ok := asSlice(top[1])
	if !ok {
		return nil, nil
	}
	rows := make([][]any, 0, len(rawRows))
	for _, rr := range rawRows {
		row, ok := asSlice(rr)
		if !ok {
			return nil, fmt.Errorf("graph.query: unexpected row shape %T", rr)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ensureIndex creates the entity-name index once per Store. FalkorDB errors
// on a duplicate index; that error is expected and swallowed.
func (s *Store) ensureIndex(ctx context.Context) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexed {
		return
	}
	_, err := s.query(ctx, `CREATE INDEX FOR (e:Entity) ON (e.name)`)
	if err == nil || strings.Contains(err.Error(), "already indexed") {
		s.indexed = true
	}
}

// Upsert merges one extraction into the graph.
func (s *Store) Upsert(ctx context.Context, ex memory.Extraction, processingDate, sourceHash string) error {
	s.ensureIndex(ctx)

	eventDate := ex.EventDate
	if eventDate == "" {
		eventDate = processingDate
	}

	for _, ent := range ex.Entities {
		if ent.Name == "" {
			continue
		}
		name, err := s.canonicalName(ctx, ent.Name)
		if err != nil {
			return fmt.Errorf("falkor: upsert: %w", err)
		}
		cypher := fmt.Sprintf(`
			MERGE (e:Entity {name: %s})
			ON CREATE SET e.type = %s, e.first_seen = %s, e.last_seen = %s, e.mention_count = 1
			ON MATCH SET e.last_seen = %s, e.mention_count = e.mention_count + 1`,
			quote(name), quote(ent.Type), quote(processingDate), quote(processingDate), quote(processingDate))
		if _, err := s.query(ctx, cypher); err != nil {
			return fmt.Errorf("falkor: upsert entity %q: %w", ent.Name, err)
		}
	}

	for _, rel := range ex.Relationships {
		if rel.Source == "" || rel.Target == "" {
			continue
		}
		src, err := s.canonicalName(ctx, rel.Source)
		if err != nil {
			return fmt.Errorf("falkor: upsert: %w", err)
		}
		dst, err := s.canonicalName(ctx, rel.Target)
		if err != nil {
			return fmt.Errorf("falkor: upsert: %w", err)
		}
		cypher := fmt.Sprintf(`
			MERGE (a:Entity {name: %s})
			MERGE (b:Entity {name: %s})
			MERGE (a)-[r:RELATES {type: %s}]->(b)
			ON CREATE SET r.weight = %g, r.evidence = %s, r.created_at = %s, r.event_time = %s, r.source_hash = %s
			ON MATCH SET r.weight = (r.weight + %g) / 2, r.evidence = %s, r.event_time = %s, r.source_hash = %s`,
			quote(src), quote(dst), quote(rel.RelType),
			rel.Weight, quote(rel.Evidence), quote(processingDate), quote(eventDate), quote(sourceHash),
			rel.Weight, quote(rel.Evidence), quote(eventDate), quote(sourceHash))
		if _, err := s.query(ctx, cypher); err != nil {
			return fmt.Errorf("falkor: upsert relationship %q->%q: %w", rel.Source, rel.Target, err)
		}
	}
	return nil
}

// canonicalName returns the stored casing for an entity whose lowercased
// name matches, or name itself when the entity is new.
func (s *Store) canonicalName(ctx context.Context, name string) (string, error) {
	rows, err := s.query(ctx, fmt.Sprintf(
		`MATCH (e:Entity) WHERE toLower(e.name) = toLower(%s) RETURN e.name LIMIT 1`, quote(name)))
	if err != nil {
		return "", err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		if stored := asString(rows[0][0]); stored != "" {
			return stored, nil
		}
	}
	return name, nil
}

// SearchEntities finds nodes by case-insensitive substring, most mentioned
// first.
func (s *Store) SearchEntities(ctx context.Context, name string, limit int) ([]memory.GraphNode, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx, fmt.Sprintf(`
		MATCH (e:Entity)
		WHERE toLower(e.name) CONTAINS toLower(%s)
		RETURN e.name, e.type, e.mention_count, e.first_seen, e.last_seen
		ORDER BY e.mention_count DESC
		LIMIT %d`, quote(name), limit))
	if err != nil {
		return nil, fmt.Errorf("falkor: search entities: %w", err)
	}
	return rowsToNodes(rows), nil
}

// Traverse walks RELATES edges in either direction from the resolved entity.
func (s *Store) Traverse(ctx context.Context, entity string, maxHops, limit int) (*memory.GraphResult, error) {
	if maxHops <= 0 {
		maxHops = 2
	}
	if limit <= 0 {
		limit = 20
	}

	result := &memory.GraphResult{Nodes: []memory.GraphNode{}, Edges: []memory.GraphEdge{}}
	center, err := s.resolve(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("falkor: traverse: %w", err)
	}
	if center == "" {
		return result, nil
	}
	result.Center = center

	centerRows, err := s.query(ctx, fmt.Sprintf(`
		MATCH (e:Entity {name: %s})
		RETURN e.name, e.type, e.mention_count, e.first_seen, e.last_seen`, quote(center)))
	if err != nil {
		return nil, fmt.Errorf("falkor: traverse: %w", err)
	}
	result.Nodes = append(result.Nodes, rowsToNodes(centerRows)...)

	nodeRows, err := s.query(ctx, fmt.Sprintf(`
		MATCH (c:Entity {name: %s})-[:RELATES*1..%d]-(m:Entity)
		RETURN DISTINCT m.name, m.type, m.mention_count, m.first_seen, m.last_seen
		LIMIT %d`, quote(center), maxHops, limit))
	if err != nil {
		return nil, fmt.Errorf("falkor: traverse: %w", err)
	}
	result.Nodes = append(result.Nodes, rowsToNodes(nodeRows)...)

	edgeRows, err := s.query(ctx, fmt.Sprintf(`
		MATCH p = (c:Entity {name: %s})-[:RELATES*1..%d]-(m:Entity)
		UNWIND relationships(p) AS r
		RETURN DISTINCT startNode(r).name, endNode(r).name, r.type, r.weight,
		       r.evidence, r.event_time, r.source_hash`, quote(center), maxHops))
	if err != nil {
		return nil, fmt.Errorf("falkor: traverse: %w", err)
	}
	result.Edges = append(result.Edges, rowsToEdges(edgeRows)...)
	return result, nil
}

// FindPath returns the shortest directed path up to 5 hops, retrying
// undirected when the directed query yields no rows.
func (s *Store) FindPath(ctx context.Context, from, to string) (*memory.GraphResult, error) {
	result := &memory.GraphResult{Nodes: []memory.GraphNode{}, Edges: []memory.GraphEdge{}}

	a, err := s.resolve(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("falkor: find path: %w", err)
	}
	b, err := s.resolve(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("falkor: find path: %w", err)
	}
	if a == "" || b == "" {
		return result, nil
	}

	rows, err := s.pathQuery(ctx, a, b, true)
	if err != nil {
		return nil, fmt.Errorf("falkor: find path: %w", err)
	}
	if len(rows) == 0 {
		rows, err = s.pathQuery(ctx, a, b, false)
		if err != nil {
			return nil, fmt.Errorf("falkor: find path: %w", err)
		}
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return result, nil
	}

	names := asStrings(rows[0][0])
	if len(names) == 0 {
		return result, nil
	}
	result.Paths = [][]string{names}

	if edgeList, ok := asSlice(rows[0][1]); ok {
		for _, raw := range edgeList {
			if fields, ok := asSlice(raw); ok {
				result.Edges = append(result.Edges, rowToEdge(fields))
			}
		}
	}

	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	nodeRows, err := s.query(ctx, fmt.Sprintf(`
		MATCH (e:Entity)
		WHERE e.name IN [%s]
		RETURN e.name, e.type, e.mention_count, e.first_seen, e.last_seen`,
		strings.Join(quoted, ", ")))
	if err != nil {
		return nil, fmt.Errorf("falkor: find path: %w", err)
	}
	result.Nodes = append(result.Nodes, rowsToNodes(nodeRows)...)
	return result, nil
}

func (s *Store) pathQuery(ctx context.Context, a, b string, directed bool) ([][]any, error) {
	arrow := "-"
	if directed {
		arrow = "->"
	}
	return s.query(ctx, fmt.Sprintf(`
		MATCH (a:Entity {name: %s}), (b:Entity {name: %s}),
		      p = shortestPath((a)-[:RELATES*..5]%s(b))
		RETURN [n IN nodes(p) | n.name],
		       [r IN relationships(p) | [startNode(r).name, endNode(r).name, r.type,
		        r.weight, r.evidence, r.event_time, r.source_hash]]`,
		quote(a), quote(b), arrow))
}

// CanonicalEntities returns the most-mentioned nodes.
func (s *Store) CanonicalEntities(ctx context.Context, limit int) ([]memory.GraphNode, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, fmt.Sprintf(`
		MATCH (e:Entity)
		RETURN e.name, e.type, e.mention_count, e.first_seen, e.last_seen
		ORDER BY e.mention_count DESC
		LIMIT %d`, limit))
	if err != nil {
		return nil, fmt.Errorf("falkor: canonical entities: %w", err)
	}
	return rowsToNodes(rows), nil
}

// resolve maps a query string to a stored entity name: exact
// case-insensitive match first, then the most-mentioned substring match.
// Returns "" when nothing matches.
func (s *Store) resolve(ctx context.Context, entity string) (string, error) {
	rows, err := s.query(ctx, fmt.Sprintf(
		`MATCH (e:Entity) WHERE toLower(e.name) = toLower(%s) RETURN e.name LIMIT 1`, quote(entity)))
	if err != nil {
		return "", err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		return asString(rows[0][0]), nil
	}

	rows, err = s.query(ctx, fmt.Sprintf(`
		MATCH (e:Entity)
		WHERE toLower(e.name) CONTAINS toLower(%s)
		RETURN e.name ORDER BY e.mention_count DESC LIMIT 1`, quote(entity)))
	if err != nil {
		return "", err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		return asString(rows[0][0]), nil
	}
	return "", nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Cypher quoting and reply conversion
// ─────────────────────────────────────────────────────────────────────────────

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quote renders s as a single-quoted Cypher string literal.
func quote(s string) string {
	return "'" + quoteEscaper.Replace(s) + "'"
}

func rowsToNodes(rows [][]any) []memory.GraphNode {
	nodes := make([]memory.GraphNode, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		nodes = append(nodes, memory.GraphNode{
			Name:         asString(row[0]),
			Type:         asString(row[1]),
			MentionCount: asInt(row[2]),
			FirstSeen:    asString(row[3]),
			LastSeen:     asString(row[4]),
		})
	}
	return nodes
}

func rowsToEdges(rows [][]any) []memory.GraphEdge {
	edges := make([]memory.GraphEdge, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		edges = append(edges, rowToEdge(row))
	}
	return edges
}

func rowToEdge(row []any) memory.GraphEdge {
	e := memory.GraphEdge{}
	get := func(i int) any {
		if i < len(row) {
			return row[i]
		}
		return nil
	}
	e.Source = asString(get(0))
	e.Target = asString(get(1))
	e.RelType = asString(get(2))
	e.Weight = asFloat(get(3))
	e.Evidence = asString(get(4))
	e.EventDate = asString(get(5))
	e.SourceHash = asString(get(6))
	return e
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asStrings(v any) []string {
	raw, ok := asSlice(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, asString(r))
	}
	return out
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}
