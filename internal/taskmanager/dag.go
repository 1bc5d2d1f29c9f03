package taskmanager

import (
	"sort"

	"github.com/maxkimambo/revgraph/internal/errors"
)

// DAG represents a directed graph of task ids and their dependency edges.
type DAG struct {
	nodes      map[string]bool
	edges      map[string][]string // node -> list of nodes it depends on
	dependents map[string][]string // node -> list of nodes that depend on it
	inDegree   map[string]int      // node -> number of unique dependencies
}

// NewDAG creates a new empty DAG.
func NewDAG() *DAG {
	return &DAG{
		nodes:      make(map[string]bool),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// AddNode adds a node to the DAG.
func (d *DAG) AddNode(id string) {
	if !d.nodes[id] {
		d.nodes[id] = true
		d.inDegree[id] = 0
	}
}

// AddEdge adds a dependency edge from 'from' to 'to' (from depends on to).
// Repeated edges are ignored.
func (d *DAG) AddEdge(from, to string) {
	d.AddNode(from)
	d.AddNode(to)

	for _, existing := range d.edges[from] {
		if existing == to {
			return
		}
	}
	d.edges[from] = append(d.edges[from], to)
	d.dependents[to] = append(d.dependents[to], from)
	d.inDegree[from]++
}

// TopologicalSort returns the nodes in execution order. Ties are broken
// lexicographically so the order is stable across runs. If the edges contain a
// cycle the returned error is a *errors.CyclicGraphError naming every node that
// could not be ordered.
func (d *DAG) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.inDegree))
	for node, degree := range d.inDegree {
		inDegree[node] = degree
	}

	var queue []string
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		released := false
		for _, node := range d.dependents[current] {
			inDegree[node]--
			if inDegree[node] == 0 {
				queue = append(queue, node)
				released = true
			}
		}
		if released {
			sort.Strings(queue)
		}
	}

	if len(result) != len(d.nodes) {
		var remaining []string
		for node, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, node)
			}
		}
		return nil, errors.NewCyclicGraphError("", remaining)
	}

	return result, nil
}
