package taskmanager

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maxkimambo/revgraph/internal/errors"
)

// Status represents the state of a task within one run.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	case StatusSkipped:
		return "Skipped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for candidate := StatusPending; candidate <= StatusSkipped; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown task status %q", string(text))
}

// SkipReason explains a Skipped status.
type SkipReason string

const (
	// SkipRouteNotTaken means the route predicate returned false. Dependents treat
	// the task as satisfied.
	SkipRouteNotTaken SkipReason = "route_not_taken"
	// SkipUpstreamFailed means a critical dependency failed, or was itself skipped
	// for that reason. It propagates to dependents.
	SkipUpstreamFailed SkipReason = "upstream_failed"
	// SkipCancelled means the run was cancelled before the task started.
	SkipCancelled SkipReason = "cancelled"
)

// blocks reports whether dependents of a task skipped for r must skip too.
func (r SkipReason) blocks() bool {
	return r == SkipUpstreamFailed || r == SkipCancelled
}

// ErrorInfo describes why a task failed.
type ErrorInfo struct {
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func newErrorInfo(err error) *ErrorInfo {
	return &ErrorInfo{
		Kind:    errors.KindOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// LedgerEntry is the outcome of one task in one run.
type LedgerEntry struct {
	TaskID     string        `json:"task_id"`
	Status     Status        `json:"status"`
	Attempts   int           `json:"attempts"`
	Error      *ErrorInfo    `json:"error,omitempty"`
	SkipReason SkipReason    `json:"skip_reason,omitempty"`
	StartTime  time.Time     `json:"start_time,omitempty"`
	EndTime    time.Time     `json:"end_time,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// LedgerSummary counts entries per status.
type LedgerSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Ledger records the per-task outcome of one run. Only the scheduler mutates it.
type Ledger struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*LedgerEntry
}

func newLedger(order []string) *Ledger {
	l := &Ledger{
		order:   append([]string(nil), order...),
		entries: make(map[string]*LedgerEntry, len(order)),
	}
	for _, id := range order {
		l.entries[id] = &LedgerEntry{TaskID: id, Status: StatusPending}
	}
	return l
}

// Get returns a copy of the entry for id.
func (l *Ledger) Get(id string) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return LedgerEntry{}, false
	}
	return *e, true
}

// Status returns the status of id; unknown ids read as Pending.
func (l *Ledger) Status(id string) Status {
	e, _ := l.Get(id)
	return e.Status
}

// Entries returns copies of all entries in topological order.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LedgerEntry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.entries[id])
	}
	return out
}

// Summary counts entries per status.
func (l *Ledger) Summary() LedgerSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := LedgerSummary{Total: len(l.order)}
	for _, e := range l.entries {
		switch e.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// RunningTasks returns the ids currently running, in topological order.
func (l *Ledger) RunningTasks() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for _, id := range l.order {
		if l.entries[id].Status == StatusRunning {
			out = append(out, id)
		}
	}
	return out
}

// MarshalJSON renders the entries in topological order.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

func (l *Ledger) markRunning(id string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[id]
	e.Status = StatusRunning
	e.StartTime = at
}

func (l *Ledger) markSucceeded(id string, attempts int, start, end time.Time) {
	l.finish(id, StatusSucceeded, attempts, nil, start, end)
}

func (l *Ledger) markFailed(id string, attempts int, info *ErrorInfo, start, end time.Time) {
	l.finish(id, StatusFailed, attempts, info, start, end)
}

func (l *Ledger) finish(id string, status Status, attempts int, info *ErrorInfo, start, end time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[id]
	e.Status = status
	e.Attempts = attempts
	e.Error = info
	if !start.IsZero() {
		e.StartTime = start
	}
	e.EndTime = end
	if !e.StartTime.IsZero() {
		e.Duration = end.Sub(e.StartTime)
	}
}

func (l *Ledger) markSkipped(id string, reason SkipReason, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[id]
	e.Status = StatusSkipped
	e.SkipReason = reason
	e.EndTime = at
}
