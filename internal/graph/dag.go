// File: internal/graph/dag.go
// Brief: Stable topological ordering, execution groups and cycle extraction.

package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports one dependency cycle as a closed path (first == last).
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", CycleString(e.Cycle))
}

func CycleString(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// Order returns a topological order where every node follows its dependencies.
// Whenever several nodes are ready the lexically smallest goes first.
func (g *Graph) Order() ([]string, error) {
	inDegree := g.inDegrees()
	var ready []string
	for n, d := range inDegree {
		if d == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, dependent := range g.dependents[cur] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil, g.cycleError()
	}
	return order, nil
}

// Groups returns execution waves: every node of a wave only depends on nodes of
// earlier waves. Names inside a wave are sorted.
func (g *Graph) Groups() ([][]string, error) {
	inDegree := g.inDegrees()
	var ready []string
	for n, d := range inDegree {
		if d == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	var groups [][]string
	assigned := 0
	for len(ready) > 0 {
		wave := append([]string(nil), ready...)
		ready = ready[:0]
		assigned += len(wave)
		for _, id := range wave {
			for _, dependent := range g.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					ready = append(ready, dependent)
				}
			}
		}
		sort.Strings(ready)
		groups = append(groups, wave)
	}
	if assigned != len(g.nodes) {
		return nil, g.cycleError()
	}
	return groups, nil
}

func (g *Graph) inDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.nodes))
	for n := range g.nodes {
		inDegree[n] = len(g.deps[n])
	}
	return inDegree
}

func (g *Graph) cycleError() error {
	cycles := g.Cycles()
	if len(cycles) == 0 {
		return fmt.Errorf("dependency cycle detected")
	}
	return &CycleError{Cycle: cycles[0]}
}

// maxCyclesPerComponent bounds elementary cycle enumeration; a dense
// component can hold exponentially many cycles.
const maxCyclesPerComponent = 64

// Cycles returns every elementary cycle as a closed path (first == last),
// up to maxCyclesPerComponent per strongly connected component. Each path
// starts at the smallest name on the cycle and follows dependency edges in
// lexical order. Paths are sorted by their start, then by the path itself.
func (g *Graph) Cycles() [][]string {
	var cycles [][]string
	for _, comp := range g.components() {
		if len(comp) == 1 && !g.selfLoop(comp[0]) {
			continue
		}
		in := make(map[string]bool, len(comp))
		for _, n := range comp {
			in[n] = true
		}
		found := 0
		for _, start := range comp {
			for _, path := range g.cyclesFrom(start, in, maxCyclesPerComponent-found) {
				cycles = append(cycles, path)
				found++
			}
			if found >= maxCyclesPerComponent {
				break
			}
		}
	}
	sort.SliceStable(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func (g *Graph) selfLoop(n string) bool {
	for _, d := range g.deps[n] {
		if d == n {
			return true
		}
	}
	return false
}

// cyclesFrom lists the simple cycles through start whose other nodes sort after
// start, so every cycle is found once, from its smallest node.
func (g *Graph) cyclesFrom(start string, in map[string]bool, limit int) [][]string {
	var out [][]string
	path := []string{start}
	onPath := map[string]bool{start: true}
	var dfs func(string)
	dfs = func(cur string) {
		for _, next := range g.deps[cur] {
			if len(out) >= limit {
				return
			}
			if !in[next] || next < start {
				continue
			}
			if next == start {
				out = append(out, append(append([]string(nil), path...), start))
				continue
			}
			if onPath[next] {
				continue
			}
			onPath[next] = true
			path = append(path, next)
			dfs(next)
			path = path[:len(path)-1]
			onPath[next] = false
		}
	}
	dfs(start)
	return out
}

// components runs Tarjan's algorithm over the nodes in lexical order and returns
// each component sorted.
func (g *Graph) components() [][]string {
	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var out [][]string

	var strong func(string)
	strong = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.deps[v] {
			if _, seen := indices[w]; !seen {
				strong(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}
		if lowlink[v] != indices[v] {
			return
		}
		var comp []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		sort.Strings(comp)
		out = append(out, comp)
	}
	for _, n := range g.Nodes() {
		if _, seen := indices[n]; !seen {
			strong(n)
		}
	}
	return out
}
