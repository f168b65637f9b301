// File: internal/graph/print.go
// Brief: DOT and mermaid rendering for dependency graphs.

package graph

import (
	"fmt"
	"io"
	"strings"
)

type PrintOptions struct {
	Name string
	// Label returns extra node text shown under the name. Optional.
	Label func(node string) string
}

func PrintDOT(w io.Writer, g *Graph, opts PrintOptions) error {
	name := opts.Name
	if name == "" {
		name = "stackfuse"
	}
	fmt.Fprintf(w, "digraph %s {\n", safeID(name))
	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [shape=box];")
	for _, n := range g.Nodes() {
		label := n
		if opts.Label != nil {
			if extra := opts.Label(n); extra != "" {
				label = n + "\\n" + extra
			}
		}
		fmt.Fprintf(w, "  \"%s\" [label=\"%s\"];\n", n, label)
	}
	for _, e := range g.Edges() {
		// Edge: from depends on to => to -> from.
		fmt.Fprintf(w, "  \"%s\" -> \"%s\";\n", e[1], e[0])
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func PrintMermaid(w io.Writer, g *Graph, opts PrintOptions) error {
	fmt.Fprintln(w, "graph TD")
	for _, n := range g.Nodes() {
		label := n
		if opts.Label != nil {
			if extra := opts.Label(n); extra != "" {
				label = n + "\\n" + extra
			}
		}
		fmt.Fprintf(w, "  %s[\"%s\"]\n", safeID(n), label)
	}
	var err error
	for _, e := range g.Edges() {
		_, err = fmt.Fprintf(w, "  %s --> %s\n", safeID(e[1]), safeID(e[0]))
	}
	return err
}

func safeID(s string) string {
	out := strings.Builder{}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r)
		case r >= '0' && r <= '9':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}
