package resolve

import (
	"fmt"
	"io"

	"github.com/example/stackfuse/internal/graph"
)

type GraphKind string

const (
	GraphServices GraphKind = "services"
	GraphBuild    GraphKind = "build"
)

func (ot *OrderedTopology) graph(kind GraphKind) (*graph.Graph, graph.PrintOptions, error) {
	if !ot.Validated() {
		return nil, graph.PrintOptions{}, ErrNotValidated
	}
	switch kind {
	case GraphServices, "":
		return ot.topo.ServiceGraph(), graph.PrintOptions{Name: "services", Label: func(n string) string {
			if s := ot.Service(n); s != nil {
				return s.Image
			}
			return ""
		}}, nil
	case GraphBuild:
		return ot.topo.BuildGraph(), graph.PrintOptions{Name: "build", Label: func(n string) string {
			if st, ok := ot.topo.Stages[n]; ok && st.Base.Image != "" {
				return st.Base.Image
			}
			return ""
		}}, nil
	default:
		return nil, graph.PrintOptions{}, fmt.Errorf("unknown graph kind %q (expected services or build)", kind)
	}
}

func PrintGraphDOT(w io.Writer, ot *OrderedTopology, kind GraphKind) error {
	g, opts, err := ot.graph(kind)
	if err != nil {
		return err
	}
	return graph.PrintDOT(w, g, opts)
}

func PrintGraphMermaid(w io.Writer, ot *OrderedTopology, kind GraphKind) error {
	g, opts, err := ot.graph(kind)
	if err != nil {
		return err
	}
	return graph.PrintMermaid(w, g, opts)
}
