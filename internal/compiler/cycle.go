package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// Warning is a non-fatal finding about a document.
//
// Daemon chains are warnings, not errors: reactive writes never trigger
// daemons, so a chain is always cut after one hop. The author usually
// expected it to continue.
type Warning struct {
	Path    []string `json:"path,omitempty"` // daemon names involved
	Message string   `json:"message"`
	Level   string   `json:"level"` // "warning" or "info"
}

// AnalyzeDaemons reports daemons that can never fire and daemon chains
// that will not propagate.
//
// The analysis builds a daemon → daemon feed graph (A feeds B when A writes
// a resource B subscribes to) and finds its strongly connected components
// with Tarjan's algorithm. Every feed edge is a chain that stops at A, and
// each non-trivial component is reported once as a loop.
func AnalyzeDaemons(doc *Document) []Warning {
	if len(doc.Daemons) == 0 {
		return nil
	}

	scheduled := make(map[string]bool)
	for _, a := range doc.Activities {
		for _, s := range a.Steps {
			for _, w := range stepWrites(s) {
				scheduled[w] = true
			}
		}
	}

	var warnings []Warning
	for _, d := range doc.Daemons {
		if !slices.ContainsFunc(d.Subscribe, func(r string) bool { return scheduled[r] }) {
			warnings = append(warnings, Warning{
				Path:    []string{d.Name},
				Message: fmt.Sprintf("daemon %s never fires: no scheduled step writes %s", d.Name, strings.Join(d.Subscribe, ", ")),
				Level:   "warning",
			})
		}
	}

	graph := buildFeedGraph(doc.Daemons)
	for _, from := range sortedKeys(graph) {
		for _, to := range graph[from] {
			warnings = append(warnings, Warning{
				Path:    []string{from, to},
				Message: fmt.Sprintf("daemon %s writes what %s subscribes to, but reactive writes never trigger daemons", from, to),
				Level:   "info",
			})
		}
	}

	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			path := append(slices.Clone(scc), scc[0])
			warnings = append(warnings, Warning{
				Path:    path,
				Message: fmt.Sprintf("daemon loop %s is cut after one hop", strings.Join(path, " → ")),
				Level:   "info",
			})
		}
	}
	return warnings
}

func stepWrites(s StepDoc) []string {
	switch s.Kind {
	case KindSet, KindAdd:
		return []string{s.Target}
	case KindCopy:
		return []string{s.To}
	case KindFail:
		return s.Writes
	}
	return nil
}

// feedGraph maps daemon name → daemons it feeds.
type feedGraph map[string][]string

func buildFeedGraph(daemons []DaemonDoc) feedGraph {
	graph := make(feedGraph)
	for _, from := range daemons {
		if graph[from.Name] == nil {
			graph[from.Name] = []string{}
		}
		writes := stepWrites(from.Op)
		for _, to := range daemons {
			if slices.ContainsFunc(to.Subscribe, func(r string) bool { return slices.Contains(writes, r) }) {
				graph[from.Name] = append(graph[from.Name], to.Name)
			}
		}
	}
	return graph
}

func hasSelfLoop(node string, graph feedGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components. Nodes are visited in
// name order and each component is returned rotated to start at its
// smallest name, so output is stable.
func tarjanSCC(graph feedGraph) [][]string {
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

		for _, w := range graph[v] {
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
			// popped in reverse discovery order
			slices.Reverse(scc)
			first := slices.Index(scc, slices.Min(scc))
			sccs = append(sccs, slices.Concat(scc[first:], scc[:first]))
		}
	}

	for _, node := range sortedKeys(graph) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}
