package topology

import "github.com/example/stackfuse/internal/graph"

// ServiceGraph returns the dependsOn graph over declared services. Edges to
// undeclared services are left out.
func (t *Topology) ServiceGraph() *graph.Graph {
	g := graph.New()
	for _, name := range t.ServiceNames() {
		g.AddNode(name)
	}
	for _, name := range t.ServiceNames() {
		for _, d := range t.Services[name].DependsOn {
			if _, ok := t.Services[d.Service]; ok {
				g.AddEdge(name, d.Service)
			}
		}
	}
	return g
}

// BuildGraph returns the stage graph: a stage depends on its base stage and on
// every stage it copies from. Edges to undeclared stages are left out.
func (t *Topology) BuildGraph() *graph.Graph {
	g := graph.New()
	for _, name := range t.StageNames() {
		g.AddNode(name)
	}
	for _, name := range t.StageNames() {
		st := t.Stages[name]
		if _, ok := t.Stages[st.Base.Stage]; ok && st.Base.Stage != "" {
			g.AddEdge(name, st.Base.Stage)
		}
		for _, c := range st.Copies {
			if _, ok := t.Stages[c.From]; ok && c.From != "" {
				g.AddEdge(name, c.From)
			}
		}
	}
	return g
}
