package graph

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestOrderBreaksTiesByName(t *testing.T) {
	g := New()
	for _, n := range []string{"websocket", "scheduler", "backend", "db", "redis", "frontend"} {
		g.AddNode(n)
	}
	g.AddEdge("backend", "db")
	g.AddEdge("backend", "redis")
	g.AddEdge("frontend", "backend")
	g.AddEdge("websocket", "redis")

	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	want := []string{"db", "redis", "backend", "frontend", "scheduler", "websocket"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order=%v want=%v", order, want)
	}

	groups, err := g.Groups()
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	wantGroups := [][]string{{"db", "redis", "scheduler"}, {"backend", "websocket"}, {"frontend"}}
	if !reflect.DeepEqual(groups, wantGroups) {
		t.Fatalf("groups=%v want=%v", groups, wantGroups)
	}
}

func TestCyclesReportsExactPath(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")
	g.AddEdge("d", "a")
	g.AddEdge("e", "e")

	cycles := g.Cycles()
	want := [][]string{{"a", "b", "c", "a"}, {"e", "e"}}
	if !reflect.DeepEqual(cycles, want) {
		t.Fatalf("cycles=%v want=%v", cycles, want)
	}

	_, err := g.Order()
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if got := ce.Error(); !strings.Contains(got, "a -> b -> c -> a") {
		t.Fatalf("unexpected error %q", got)
	}
	if _, err := g.Groups(); err == nil {
		t.Fatalf("expected Groups to fail on cycle")
	}
}

func TestCyclesSharingANode(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")
	g.AddEdge("a", "c")
	g.AddEdge("c", "a")
	g.AddEdge("b", "c")

	cycles := g.Cycles()
	want := [][]string{{"a", "b", "a"}, {"a", "b", "c", "a"}, {"a", "c", "a"}}
	if !reflect.DeepEqual(cycles, want) {
		t.Fatalf("cycles=%v want=%v", cycles, want)
	}
}

func TestCyclesAreBounded(t *testing.T) {
	g := New()
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, from := range names {
		for _, to := range names {
			if from != to {
				g.AddEdge(from, to)
			}
		}
	}
	if got := len(g.Cycles()); got != maxCyclesPerComponent {
		t.Fatalf("cycles=%d want=%d", got, maxCyclesPerComponent)
	}
}

func TestEdgesIgnoreRepeats(t *testing.T) {
	g := New()
	g.AddEdge("final", "build")
	g.AddEdge("build", "base")
	g.AddEdge("build", "base")
	want := [][2]string{{"build", "base"}, {"final", "build"}}
	if got := g.Edges(); !reflect.DeepEqual(got, want) {
		t.Fatalf("edges=%v want=%v", got, want)
	}
}

func TestPrintGraph(t *testing.T) {
	g := New()
	g.AddEdge("backend", "db")
	var dot bytes.Buffer
	if err := PrintDOT(&dot, g, PrintOptions{Name: "services"}); err != nil {
		t.Fatalf("PrintDOT: %v", err)
	}
	if !strings.Contains(dot.String(), `"db" -> "backend";`) {
		t.Fatalf("missing edge in dot output:\n%s", dot.String())
	}
	var mm bytes.Buffer
	if err := PrintMermaid(&mm, g, PrintOptions{Label: func(n string) string { return "svc" }}); err != nil {
		t.Fatalf("PrintMermaid: %v", err)
	}
	if !strings.Contains(mm.String(), "db --> backend") {
		t.Fatalf("missing edge in mermaid output:\n%s", mm.String())
	}
}
