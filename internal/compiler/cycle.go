package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/marty/internal/ir"
)

// CycleWarning represents a potential dispatch cycle between handlers.
//
// Cycles are warnings, not errors, because a handler may stop dispatching
// once its state converges. An unbounded cycle ends in a
// DispatchDepthExceeded error at runtime.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["A.h", "B.h", "A.h"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on handler dispatch ops.
//
// The algorithm:
//  1. Build handler -> handler graph: an edge A.h -> B.g exists when A.h
//     has a dispatch op whose action type B.g handles
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// A DAG (no cycles) returns an empty warning list. Warnings are ordered by
// the first handler of the cycle in declaration order.
func AnalyzeCycles(spec *ir.AppSpec) []CycleWarning {
	warnings := []CycleWarning{}
	if spec == nil {
		return warnings
	}

	graph, order := buildDependencyGraph(spec)
	sccs := tarjanSCC(graph, order)

	rank := make(map[string]int, len(order))
	for i, node := range order {
		rank[node] = i
	}

	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			sort.Slice(scc, func(i, j int) bool { return rank[scc[i]] < rank[scc[j]] })
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		return rank[warnings[i].Path[0]] < rank[warnings[j].Path[0]]
	})
	return warnings
}

// dependencyGraph maps "Store.handler" -> handlers its dispatch ops trigger.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the handler dependency graph and returns
// node IDs in declaration order.
func buildDependencyGraph(spec *ir.AppSpec) (dependencyGraph, []string) {
	graph := make(dependencyGraph)
	var order []string

	// Build action -> handlers mapping, in registration order
	actionToHandlers := make(map[string][]string)
	for _, store := range spec.Stores {
		for _, h := range store.Handlers {
			id := store.Name + "." + h.Name
			order = append(order, id)
			graph[id] = []string{}
			for _, t := range h.Types {
				actionToHandlers[t] = append(actionToHandlers[t], id)
			}
		}
	}

	for _, store := range spec.Stores {
		for _, h := range store.Handlers {
			id := store.Name + "." + h.Name
			for _, op := range h.Ops {
				if op.Op != ir.OpDispatch {
					continue
				}
				graph[id] = append(graph[id], actionToHandlers[op.Action]...)
			}
		}
	}

	return graph, order
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of handler IDs.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
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
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
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

	// Visit all nodes in declaration order
	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// The path shows the cycle sequence by reconstructing a path through the SCC.
// For self-loops, the path is [handler, handler].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		// Self-loop
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("Self-dispatching handler detected: %s → %s", id, id),
			Level:   "warning",
		}
	}

	// Multi-node cycle - reconstruct a cycle path
	path := reconstructCyclePath(scc, graph)

	pathStr := strings.Join(path, " → ")
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", pathStr),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}
