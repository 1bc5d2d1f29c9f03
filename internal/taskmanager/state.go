package taskmanager

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxkimambo/revgraph/internal/errors"
)

// MergeStrategy is the rule used to combine writes to one state key.
type MergeStrategy int

const (
	// Overwrite keeps the value of the last commit.
	Overwrite MergeStrategy = iota
	// Append concatenates the elements of every commit in commit order.
	Append
)

func (m MergeStrategy) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("MergeStrategy(%d)", int(m))
	}
}

// Update is a partial state update returned by a task body.
type Update map[string]interface{}

// Diagnostic is a non-fatal note recorded during a run.
type Diagnostic struct {
	TaskID  string      `json:"task_id,omitempty"`
	Kind    errors.Kind `json:"kind,omitempty"`
	Message string      `json:"message"`
	Time    time.Time   `json:"time"`
}

// StateView is the read-only accessor handed to task bodies and route predicates.
type StateView interface {
	Get(key string) (interface{}, bool)
	Fatal() bool
	Diagnostics() []Diagnostic
}

type slot struct {
	mu      sync.RWMutex
	value   interface{}
	present bool
	writer  string
}

// SharedState is the accumulator every task of a run reads from and writes into.
// Keys and their strategies are fixed at construction. Reads take a per-key read
// lock; commits lock only the keys they touch.
type SharedState struct {
	schema map[string]MergeStrategy
	slots  map[string]*slot

	// ordered reports whether earlier is an ancestor of later in the graph.
	ordered func(earlier, later string) bool

	stageMu sync.Mutex
	staged  map[string]Update

	fatal atomic.Bool

	diagMu      sync.Mutex
	diagnostics []Diagnostic
}

// NewSharedState creates a state with the declared keys and seeds it with initial
// values. Initial values follow the same rules as a commit.
func NewSharedState(schema map[string]MergeStrategy, initial Update) (*SharedState, error) {
	s := &SharedState{
		schema: make(map[string]MergeStrategy, len(schema)),
		slots:  make(map[string]*slot, len(schema)),
		staged: make(map[string]Update),
	}
	for key, strategy := range schema {
		if strategy != Overwrite && strategy != Append {
			return nil, errors.NewValidationError(errors.CodeStrategyMisuse,
				fmt.Sprintf("key %q has unknown merge strategy %d", key, int(strategy)), "state.New")
		}
		s.schema[key] = strategy
		s.slots[key] = &slot{}
	}

	if len(initial) > 0 {
		normalized, err := s.normalize(initial)
		if err != nil {
			return nil, err
		}
		s.apply("", normalized)
	}
	return s, nil
}

// Strategy returns the declared strategy of key.
func (s *SharedState) Strategy(key string) (MergeStrategy, bool) {
	strategy, ok := s.schema[key]
	return strategy, ok
}

// Keys returns the declared keys in lexical order.
func (s *SharedState) Keys() []string {
	keys := make([]string, 0, len(s.schema))
	for k := range s.schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the committed value of key. Append keys yield a fresh []interface{}
// the caller may keep.
func (s *SharedState) Get(key string) (interface{}, bool) {
	sl, ok := s.slots[key]
	if !ok {
		return nil, false
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if !sl.present {
		return nil, false
	}
	if s.schema[key] == Append {
		elems := sl.value.([]interface{})
		out := make([]interface{}, len(elems))
		copy(out, elems)
		return out, true
	}
	return sl.value, true
}

// Snapshot copies every present key.
func (s *SharedState) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(s.slots))
	for key := range s.slots {
		if v, ok := s.Get(key); ok {
			out[key] = v
		}
	}
	return out
}

// Stage records a task's proposed update without making it visible. A second
// Stage for the same task replaces the first.
func (s *SharedState) Stage(taskID string, update Update) error {
	normalized, err := s.normalize(update)
	if err != nil {
		if pe, ok := err.(*errors.PipelineError); ok {
			pe.WithTask(taskID)
		}
		return err
	}

	s.stageMu.Lock()
	s.staged[taskID] = normalized
	s.stageMu.Unlock()
	return nil
}

// Discard drops a staged update.
func (s *SharedState) Discard(taskID string) {
	s.stageMu.Lock()
	delete(s.staged, taskID)
	s.stageMu.Unlock()
}

// Commit atomically merges the staged update of taskID into the visible state.
// Committing with nothing staged is a no-op.
func (s *SharedState) Commit(taskID string) error {
	s.stageMu.Lock()
	update, ok := s.staged[taskID]
	delete(s.staged, taskID)
	s.stageMu.Unlock()

	if !ok || len(update) == 0 {
		return nil
	}

	for _, collision := range s.apply(taskID, update) {
		s.AddDiagnostic(Diagnostic{
			TaskID: taskID,
			Kind:   errors.KindValidation,
			Message: fmt.Sprintf("overwrite key %q written by unordered tasks %s and %s; last commit wins",
				collision.key, collision.previous, taskID),
		})
	}
	return nil
}

type collision struct {
	key      string
	previous string
}

// apply merges a normalized update. Every touched key is locked in lexical order
// for the duration of the merge so a commit is observed whole.
func (s *SharedState) apply(taskID string, update Update) []collision {
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s.slots[k].mu.Lock()
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			s.slots[keys[i]].mu.Unlock()
		}
	}()

	var collisions []collision
	for _, k := range keys {
		sl := s.slots[k]
		switch s.schema[k] {
		case Append:
			elems := update[k].([]interface{})
			if !sl.present {
				sl.value = make([]interface{}, 0, len(elems))
			}
			sl.value = append(sl.value.([]interface{}), elems...)
		default:
			if sl.writer != "" && taskID != "" && s.ordered != nil && !s.ordered(sl.writer, taskID) {
				collisions = append(collisions, collision{key: k, previous: sl.writer})
			}
			sl.value = update[k]
			sl.writer = taskID
		}
		sl.present = true
	}
	return collisions
}

// normalize checks every key against the schema and converts append values to
// []interface{}.
func (s *SharedState) normalize(update Update) (Update, error) {
	out := make(Update, len(update))
	for key, value := range update {
		strategy, ok := s.schema[key]
		if !ok {
			return nil, errors.NewValidationError(errors.CodeUnknownKey,
				fmt.Sprintf("key %q is not declared", key), "state.Stage").
				WithContext("key", key)
		}
		if strategy == Append {
			elems, ok := toElements(value)
			if !ok {
				return nil, errors.NewValidationError(errors.CodeStrategyMisuse,
					fmt.Sprintf("append key %q needs a slice, got %T", key, value), "state.Stage").
					WithContext("key", key)
			}
			out[key] = elems
			continue
		}
		out[key] = value
	}
	return out, nil
}

func toElements(value interface{}) ([]interface{}, bool) {
	if value == nil {
		return nil, false
	}
	if elems, ok := value.([]interface{}); ok {
		return append([]interface{}(nil), elems...), true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	elems := make([]interface{}, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true
}

// SetFatal marks the run as failed and records why.
func (s *SharedState) SetFatal(taskID, reason string) {
	s.fatal.Store(true)
	s.AddDiagnostic(Diagnostic{TaskID: taskID, Message: reason})
}

// Fatal reports whether a critical task failed.
func (s *SharedState) Fatal() bool {
	return s.fatal.Load()
}

// AddDiagnostic appends a diagnostic. Time defaults to now.
func (s *SharedState) AddDiagnostic(d Diagnostic) {
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	s.diagMu.Lock()
	s.diagnostics = append(s.diagnostics, d)
	s.diagMu.Unlock()
}

// Diagnostics returns a copy of the diagnostics in record order.
func (s *SharedState) Diagnostics() []Diagnostic {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	out := make([]Diagnostic, len(s.diagnostics))
	copy(out, s.diagnostics)
	return out
}

// View returns a read-only accessor over s.
func (s *SharedState) View() StateView {
	return stateView{s: s}
}

type stateView struct {
	s *SharedState
}

func (v stateView) Get(key string) (interface{}, bool) { return v.s.Get(key) }
func (v stateView) Fatal() bool                        { return v.s.Fatal() }
func (v stateView) Diagnostics() []Diagnostic          { return v.s.Diagnostics() }

// Value reads key from state as a T.
func Value[T any](state StateView, key string) (T, bool) {
	var zero T
	raw, ok := state.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Elements reads an append key and returns the elements that are a T.
func Elements[T any](state StateView, key string) []T {
	raw, ok := state.Get(key)
	if !ok {
		return nil
	}
	elems, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]T, 0, len(elems))
	for _, e := range elems {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
