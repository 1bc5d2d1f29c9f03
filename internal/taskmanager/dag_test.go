package taskmanager

import (
	stderrors "errors"
	"testing"

	"github.com/maxkimambo/revgraph/internal/errors"
)

func TestDAG_AddEdge(t *testing.T) {
	dag := NewDAG()
	dag.AddEdge("task1", "task2")
	dag.AddEdge("task1", "task2")

	if !dag.nodes["task1"] || !dag.nodes["task2"] {
		t.Error("AddEdge() did not create both nodes")
	}
	if len(dag.edges["task1"]) != 1 || dag.edges["task1"][0] != "task2" {
		t.Errorf("AddEdge() edges = %v, want [task2]", dag.edges["task1"])
	}
	if dag.inDegree["task1"] != 1 {
		t.Errorf("repeated edge counted twice, in-degree = %d", dag.inDegree["task1"])
	}
	if len(dag.dependents["task2"]) != 1 {
		t.Errorf("dependents of task2 = %v", dag.dependents["task2"])
	}
}

func TestDAG_TopologicalSort_Deterministic(t *testing.T) {
	dag := NewDAG()
	dag.AddEdge("aggregate", "style")
	dag.AddEdge("aggregate", "security")
	dag.AddEdge("aggregate", "performance")
	dag.AddEdge("style", "ingest")
	dag.AddEdge("security", "ingest")
	dag.AddEdge("performance", "ingest")

	want := []string{"ingest", "performance", "security", "style", "aggregate"}
	for i := 0; i < 10; i++ {
		got, err := dag.TopologicalSort()
		if err != nil {
			t.Fatalf("TopologicalSort() error = %v", err)
		}
		if !equalSlices(got, want) {
			t.Fatalf("TopologicalSort() = %v, want %v", got, want)
		}
	}
}

func TestDAG_TopologicalSort_Cycle(t *testing.T) {
	dag := NewDAG()
	dag.AddNode("root")
	dag.AddEdge("a", "root")
	dag.AddEdge("b", "a")
	dag.AddEdge("c", "b")
	dag.AddEdge("a", "c")

	order, err := dag.TopologicalSort()
	if err == nil {
		t.Fatalf("expected cycle error, got order %v", order)
	}
	if !stderrors.Is(err, errors.ErrCyclicGraph) {
		t.Fatalf("expected ErrCyclicGraph, got %v", err)
	}
	var cyc *errors.CyclicGraphError
	if !stderrors.As(err, &cyc) {
		t.Fatalf("expected *CyclicGraphError, got %T", err)
	}
	if !equalSlices(cyc.Tasks, []string{"a", "b", "c"}) {
		t.Errorf("cycle members = %v, want [a b c]", cyc.Tasks)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
