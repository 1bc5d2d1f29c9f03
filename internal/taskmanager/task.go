package taskmanager

// TaskFunc is the body of a task. It reads committed state through state and
// returns the partial update to stage and commit, or an error.
type TaskFunc func(rc *RunContext, state StateView) (Update, error)

// RoutePredicate decides, once every dependency is terminal, whether a task runs.
type RoutePredicate func(state StateView) bool

// Task represents a single unit of work in a graph. Tasks refer to each other by
// id only.
type Task struct {
	ID          string
	Description string
	DependsOn   []string
	RouteWhen   RoutePredicate
	Handler     TaskFunc

	// Critical tasks set the run's fatal flag when they fail, and their
	// dependents are skipped.
	Critical bool
}

func (t Task) clone() *Task {
	c := t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	return &c
}
