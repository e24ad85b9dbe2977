package compiler

import (
	"slices"
	"strings"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// statusCycle is a loop of "kind:status" nodes reachable through cascade
// rules, e.g. ["project:completed", "task:completed", "project:completed"].
type statusCycle []string

func (c statusCycle) String() string {
	return strings.Join(c, " -> ")
}

// statusGraph maps a "kind:status" node to the nodes a cascade moves
// children into when an entity enters it.
type statusGraph map[string][]string

func statusNode(kind ir.EntityKind, status string) string {
	return string(kind) + ":" + status
}

func buildStatusGraph(rules []ir.CascadeRule) statusGraph {
	g := make(statusGraph)
	for _, r := range rules {
		to := statusNode(r.Then.Kind, r.Then.To)
		for _, s := range r.When.Statuses {
			from := statusNode(r.When.Kind, s)
			if !slices.Contains(g[from], to) {
				g[from] = append(g[from], to)
			}
		}
		if _, ok := g[to]; !ok {
			g[to] = nil
		}
	}
	return g
}

// findCascadeCycles reports every strongly connected component of the
// cascade status graph that could make a cascade re-trigger itself.
//
// Cascades run inside one local write transaction, so a cycle would never
// terminate.
func findCascadeCycles(rules []ir.CascadeRule) []statusCycle {
	if len(rules) == 0 {
		return nil
	}
	g := buildStatusGraph(rules)

	var cycles []statusCycle
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || slices.Contains(g[scc[0]], scc[0]) {
			slices.Sort(scc)
			cycles = append(cycles, append(statusCycle(scc), scc[0]))
		}
	}
	slices.SortFunc(cycles, func(a, b statusCycle) int {
		return strings.Compare(a.String(), b.String())
	})
	return cycles
}

// tarjanSCC finds strongly connected components.
func tarjanSCC(g statusGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}
