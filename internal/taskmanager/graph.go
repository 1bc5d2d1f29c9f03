package taskmanager

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/maxkimambo/revgraph/internal/errors"
)

// Graph is an immutable, validated set of tasks and the keys they share.
type Graph struct {
	id         string
	entry      string
	tasks      map[string]*Task
	order      []string
	dependents map[string][]string
	ancestors  map[string]map[string]bool
	schema     map[string]MergeStrategy
}

// ID returns the graph identifier.
func (g *Graph) ID() string { return g.id }

// Entry returns the entry task.
func (g *Graph) Entry() string { return g.entry }

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Order returns the task ids in topological order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Task returns a copy of the task with the given id.
func (g *Graph) Task(id string) (Task, bool) {
	t, ok := g.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t.clone(), true
}

// Dependencies returns the ids id depends on, sorted.
func (g *Graph) Dependencies(id string) []string {
	t, ok := g.tasks[id]
	if !ok {
		return nil
	}
	deps := append([]string(nil), t.DependsOn...)
	sort.Strings(deps)
	return deps
}

// Dependents returns the ids that depend directly on id, sorted.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// IsAncestor reports whether a must finish before b can start.
func (g *Graph) IsAncestor(a, b string) bool {
	return g.ancestors[b][a]
}

// Schema returns a copy of the declared state keys.
func (g *Graph) Schema() map[string]MergeStrategy {
	out := make(map[string]MergeStrategy, len(g.schema))
	for k, v := range g.schema {
		out[k] = v
	}
	return out
}

// NewState creates a SharedState for one run of this graph.
func (g *Graph) NewState(initial Update) (*SharedState, error) {
	state, err := NewSharedState(g.schema, initial)
	if err != nil {
		return nil, err
	}
	state.ordered = g.IsAncestor
	return state, nil
}

// GraphBuilder is a builder for creating Graph instances with validation
type GraphBuilder struct {
	graphID      string
	entry        string
	tasks        map[string]*Task
	dependencies map[string][]string // taskID -> list of dependency IDs
	schema       map[string]MergeStrategy
	problems     []string
}

// NewGraphBuilder creates a new GraphBuilder with the given graph ID
func NewGraphBuilder(id string) *GraphBuilder {
	return &GraphBuilder{
		graphID:      id,
		tasks:        make(map[string]*Task),
		dependencies: make(map[string][]string),
		schema:       make(map[string]MergeStrategy),
	}
}

// AddTask adds a task to the graph being built. Its DependsOn ids are merged with
// any added through AddDependency.
func (gb *GraphBuilder) AddTask(task Task) *GraphBuilder {
	if task.ID == "" {
		gb.problems = append(gb.problems, "task with empty id")
		return gb
	}
	if _, exists := gb.tasks[task.ID]; exists {
		gb.problems = append(gb.problems, fmt.Sprintf("duplicate task '%s'", task.ID))
		return gb
	}
	gb.tasks[task.ID] = task.clone()
	gb.dependencies[task.ID] = append(gb.dependencies[task.ID], task.DependsOn...)
	return gb
}

// AddDependency makes taskID depend on dependencyID.
func (gb *GraphBuilder) AddDependency(taskID string, dependencyID string) *GraphBuilder {
	gb.dependencies[taskID] = append(gb.dependencies[taskID], dependencyID)
	return gb
}

// DeclareKey declares a state key and its merge strategy.
func (gb *GraphBuilder) DeclareKey(key string, strategy MergeStrategy) *GraphBuilder {
	if existing, ok := gb.schema[key]; ok && existing != strategy {
		gb.problems = append(gb.problems,
			fmt.Sprintf("key '%s' declared as both %s and %s", key, existing, strategy))
		return gb
	}
	gb.schema[key] = strategy
	return gb
}

// SetEntry names the entry task. Without it the first root in order is used.
func (gb *GraphBuilder) SetEntry(taskID string) *GraphBuilder {
	gb.entry = taskID
	return gb
}

// Build validates and constructs the final Graph. A graph with a dependency
// cycle fails with *errors.CyclicGraphError; every other structural problem is a
// validation error.
func (gb *GraphBuilder) Build() (*Graph, error) {
	if err := gb.validate(); err != nil {
		return nil, err
	}

	dag := gb.createDAG()
	order, err := dag.TopologicalSort()
	if err != nil {
		var cyc *errors.CyclicGraphError
		if stderrors.As(err, &cyc) {
			cyc.GraphID = gb.graphID
			return nil, cyc
		}
		return nil, fmt.Errorf("invalid graph structure: %w", err)
	}

	g := &Graph{
		id:         gb.graphID,
		tasks:      make(map[string]*Task, len(gb.tasks)),
		order:      order,
		dependents: make(map[string][]string, len(gb.tasks)),
		ancestors:  make(map[string]map[string]bool, len(gb.tasks)),
		schema:     make(map[string]MergeStrategy, len(gb.schema)),
	}
	for k, v := range gb.schema {
		g.schema[k] = v
	}

	for _, id := range order {
		task := gb.tasks[id].clone()
		task.DependsOn = append([]string(nil), dag.edges[id]...)
		sort.Strings(task.DependsOn)
		g.tasks[id] = task

		dependents := append([]string(nil), dag.dependents[id]...)
		sort.Strings(dependents)
		g.dependents[id] = dependents

		anc := make(map[string]bool)
		for _, dep := range task.DependsOn {
			anc[dep] = true
			for a := range g.ancestors[dep] {
				anc[a] = true
			}
		}
		g.ancestors[id] = anc
	}

	g.entry = gb.entry
	if g.entry == "" && len(order) > 0 {
		g.entry = order[0]
	}
	return g, nil
}

// ShowOrder returns the planned execution order without building the full Graph.
func (gb *GraphBuilder) ShowOrder() ([]string, error) {
	if err := gb.validate(); err != nil {
		return nil, err
	}
	return gb.createDAG().TopologicalSort()
}

func (gb *GraphBuilder) validate() error {
	problems := append([]string(nil), gb.problems...)

	ids := make([]string, 0, len(gb.tasks))
	for id := range gb.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if gb.tasks[id].Handler == nil {
			problems = append(problems, fmt.Sprintf("task '%s' has no handler", id))
		}
	}

	depOwners := make([]string, 0, len(gb.dependencies))
	for id := range gb.dependencies {
		depOwners = append(depOwners, id)
	}
	sort.Strings(depOwners)
	for _, taskID := range depOwners {
		if _, exists := gb.tasks[taskID]; !exists {
			problems = append(problems, fmt.Sprintf("dependency declared for non-existent task '%s'", taskID))
			continue
		}
		for _, depID := range gb.dependencies[taskID] {
			if depID == taskID {
				problems = append(problems, fmt.Sprintf("task '%s' depends on itself", taskID))
			} else if _, exists := gb.tasks[depID]; !exists {
				problems = append(problems, fmt.Sprintf("task '%s' depends on non-existent task '%s'", taskID, depID))
			}
		}
	}

	if gb.entry != "" {
		if _, exists := gb.tasks[gb.entry]; !exists {
			problems = append(problems, fmt.Sprintf("entry task '%s' does not exist", gb.entry))
		} else if len(gb.dependencies[gb.entry]) > 0 {
			problems = append(problems, fmt.Sprintf("entry task '%s' has dependencies", gb.entry))
		}
	}

	if len(gb.tasks) == 0 && len(gb.problems) == 0 {
		problems = append(problems, "graph has no tasks")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewValidationError(errors.CodeGraphInvalid, strings.Join(problems, "; "), "graph.Build").
		WithContext("graph", gb.graphID)
}

// createDAG creates a DAG from the builder's current state
func (gb *GraphBuilder) createDAG() *DAG {
	dag := NewDAG()
	for taskID := range gb.tasks {
		dag.AddNode(taskID)
	}
	for taskID, deps := range gb.dependencies {
		for _, depID := range deps {
			dag.AddEdge(taskID, depID)
		}
	}
	return dag
}
