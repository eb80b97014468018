package crdt

import (
	"errors"
	"strings"

	"github.com/zeusync/crdtsync/internal/core/replica"
)

var _ State = (*Graph)(nil)

// Edge is a directed edge between two vertex ids.
type Edge struct {
	From string
	To   string
}

const edgeSep = "\x1f"

// ErrInvalidVertex rejects vertex ids that cannot be encoded in an edge key.
var ErrInvalidVertex = errors.New("vertex id contains the unit separator")

// ValidVertex reports whether id can name a vertex.
func ValidVertex(id string) error {
	if strings.Contains(id, edgeSep) {
		return ErrInvalidVertex
	}
	return nil
}

func (e Edge) key() string {
	return e.From + edgeSep + e.To
}

func parseEdgeKey(k string) Edge {
	from, to, _ := strings.Cut(k, edgeSep)
	return Edge{From: from, To: to}
}

// Graph keeps vertices and edges in two observed-remove sets. An edge is
// visible only while both of its endpoints are.
type Graph struct {
	Policy   Policy
	vertices *orSet
	edges    *orSet
}

func NewGraph(policy Policy) *Graph {
	return &Graph{Policy: policy, vertices: newORSet(), edges: newORSet()}
}

func (g *Graph) Kind() Kind { return KindGraph }

func (g *Graph) fragment(vertices, edges *orSet) *Graph {
	if vertices == nil {
		vertices = newORSet()
	}
	if edges == nil {
		edges = newORSet()
	}
	return &Graph{Policy: g.Policy, vertices: vertices, edges: edges}
}

func (g *Graph) AddVertex(id string, ts replica.Timestamp) *Graph {
	return g.fragment(g.vertices.add(id, ts), nil)
}

func (g *Graph) RemoveVertex(id string, ts replica.Timestamp) *Graph {
	return g.fragment(g.vertices.remove(id, ts), nil)
}

func (g *Graph) AddEdge(from, to string, ts replica.Timestamp) *Graph {
	return g.fragment(nil, g.edges.add(Edge{From: from, To: to}.key(), ts))
}

func (g *Graph) RemoveEdge(from, to string, ts replica.Timestamp) *Graph {
	return g.fragment(nil, g.edges.remove(Edge{From: from, To: to}.key(), ts))
}

func (g *Graph) HasVertex(id string) bool {
	return g.vertices.live(id, g.Policy)
}

func (g *Graph) HasEdge(from, to string) bool {
	return g.HasVertex(from) && g.HasVertex(to) && g.edges.live(Edge{From: from, To: to}.key(), g.Policy)
}

// Vertices returns the live vertex ids, sorted.
func (g *Graph) Vertices() []string {
	return g.vertices.members(g.Policy)
}

// Edges returns the visible edges sorted by (from, to).
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, k := range g.edges.members(g.Policy) {
		e := parseEdgeKey(k)
		if g.HasVertex(e.From) && g.HasVertex(e.To) {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns the targets of visible edges leaving id.
func (g *Graph) Neighbors(id string) []string {
	var out []string
	for _, e := range g.Edges() {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}

func (g *Graph) Merge(other *Graph) {
	g.vertices.merge(other.vertices)
	g.edges.merge(other.edges)
}

func (g *Graph) Clone() State {
	return &Graph{Policy: g.Policy, vertices: g.vertices.clone(), edges: g.edges.clone()}
}

func (g *Graph) Equal(other State) bool {
	o, ok := other.(*Graph)
	return ok && g.vertices.equal(o.vertices) && g.edges.equal(o.edges)
}

func (g *Graph) Keys() []string {
	var out []string
	for _, id := range g.vertices.ids() {
		out = append(out, "v:"+id)
	}
	for _, k := range g.edges.ids() {
		e := parseEdgeKey(k)
		out = append(out, "e:"+e.From+"->"+e.To)
	}
	return out
}

func (g *Graph) MaxCounter() uint64 {
	return max(g.vertices.maxCounter(), g.edges.maxCounter())
}

type graphWire struct {
	Policy   Policy    `msgpack:"p"`
	Vertices orSetWire `msgpack:"v"`
	Edges    orSetWire `msgpack:"e"`
}

func (g *Graph) wire() any {
	return graphWire{Policy: g.Policy, Vertices: g.vertices.wire(), Edges: g.edges.wire()}
}
