// File: internal/graph/graph.go
// Brief: Dependency graph over named nodes.

package graph

import "sort"

// Graph stores "from depends on to" edges between named nodes.
type Graph struct {
	nodes      map[string]struct{}
	deps       map[string][]string
	dependents map[string][]string
}

func New() *Graph {
	return &Graph{
		nodes:      map[string]struct{}{},
		deps:       map[string][]string{},
		dependents: map[string][]string{},
	}
}

func (g *Graph) AddNode(name string) {
	g.nodes[name] = struct{}{}
}

// AddEdge records that from depends on to. Repeated edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	for _, existing := range g.deps[from] {
		if existing == to {
			return
		}
	}
	g.deps[from] = insertSorted(g.deps[from], to)
	g.dependents[to] = insertSorted(g.dependents[to], from)
}

// Nodes returns all node names in lexical order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Edges returns [from, to] pairs sorted by from then to.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for from, deps := range g.deps {
		for _, to := range deps {
			edges = append(edges, [2]string{from, to})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
