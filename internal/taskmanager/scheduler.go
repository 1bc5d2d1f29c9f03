package taskmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/progress"
)

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// MaxParallelTasks caps concurrently running bodies. Zero gives every ready
	// task its own slot.
	MaxParallelTasks int
	// TaskTimeout bounds a single body, retries included. Zero means no bound.
	TaskTimeout time.Duration
	// ProgressInterval is how often progress is logged. Zero disables it.
	ProgressInterval time.Duration
	// AbandonGrace is how long a body may keep running once its context is done
	// (task timeout or run cancellation). After that the task is failed and the
	// body's eventual update is dropped. Zero uses DefaultAbandonGrace.
	AbandonGrace time.Duration
}

// DefaultAbandonGrace is the grace period used when SchedulerConfig.AbandonGrace is zero.
const DefaultAbandonGrace = 5 * time.Second

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxParallelTasks: 0,
		TaskTimeout:      15 * time.Minute,
		ProgressInterval: 10 * time.Second,
		AbandonGrace:     DefaultAbandonGrace,
	}
}

// RunResult is what a run hands back to its caller.
type RunResult struct {
	RunID     string
	State     *SharedState
	Ledger    *Ledger
	Fatal     bool
	Cancelled bool
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Succeeded reports whether the run neither went fatal nor was cancelled.
// Individual non-critical tasks may still have failed or been skipped.
func (r *RunResult) Succeeded() bool {
	return !r.Fatal && !r.Cancelled
}

// Outcome is a one-word label for the run.
func (r *RunResult) Outcome() string {
	switch {
	case r.Fatal:
		return "fatal"
	case r.Cancelled:
		return "cancelled"
	default:
		return "succeeded"
	}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMetrics records task and run metrics.
func WithMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler runs a Graph against a SharedState.
type Scheduler struct {
	graph   *Graph
	config  *SchedulerConfig
	metrics *Metrics
}

// NewScheduler creates a scheduler for g. A nil config uses the defaults.
func NewScheduler(g *Graph, config *SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	s := &Scheduler{graph: g, config: config}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type completion struct {
	taskID   string
	err      error
	attempts int
	start    time.Time
	end      time.Time
}

// run holds the mutable bookkeeping of one Run call. Everything except the
// completions channel is touched only by the scheduling loop.
type run struct {
	rc          *RunContext
	state       *SharedState
	ledger      *Ledger
	completions chan completion
	wg          sync.WaitGroup
	running     int
}

// Run executes the graph until every task is terminal and returns the final
// state with its ledger. The returned error is non-nil only when the run could
// not start; task failures are reported in the ledger.
func (s *Scheduler) Run(rc *RunContext, state *SharedState) (*RunResult, error) {
	if err := s.checkInputs(rc, state); err != nil {
		return nil, err
	}

	start := time.Now()
	r := &run{
		rc:          rc,
		state:       state,
		ledger:      newLedger(s.graph.order),
		completions: make(chan completion, len(s.graph.order)),
	}
	result := &RunResult{RunID: rc.RunID(), State: state, Ledger: r.ledger, StartTime: start}

	logger.Op.WithFields(map[string]interface{}{
		"run_id":      rc.RunID(),
		"graph":       s.graph.id,
		"tasks":       len(s.graph.order),
		"maxParallel": s.config.MaxParallelTasks,
	}).Info("Starting graph run")

	var reporter *progress.Reporter
	var tick <-chan time.Time
	if s.config.ProgressInterval > 0 {
		reporter = progress.NewReporter(s.config.ProgressInterval)
		ticker := time.NewTicker(s.config.ProgressInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	done := rc.Done()
	for {
		if !result.Cancelled && rc.Cancelled() {
			result.Cancelled = true
			s.cancelPending(r)
		}
		if !result.Cancelled {
			s.dispatchReady(r)
		}
		if r.running == 0 {
			break
		}

		select {
		case c := <-r.completions:
			r.running--
			s.complete(r, c)
		case <-done:
			done = nil
		case <-tick:
			logger.User.Info(reporter.Report(s.progressInfo(r, start)))
		}
	}
	r.wg.Wait()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	result.Fatal = state.Fatal()
	s.metrics.runFinished(result.Outcome())
	s.logFinal(result)
	return result, nil
}

func (s *Scheduler) checkInputs(rc *RunContext, state *SharedState) error {
	if rc == nil || state == nil {
		return errors.NewValidationError(errors.CodeMissingInput, "run context and state are required", "scheduler.Run")
	}
	for key, strategy := range s.graph.schema {
		got, ok := state.Strategy(key)
		if !ok || got != strategy {
			return errors.NewValidationError(errors.CodeStrategyMisuse,
				fmt.Sprintf("state does not declare key %q as %s", key, strategy), "scheduler.Run").
				WithHint("Create the state with Graph.NewState")
		}
	}
	if state.ordered == nil {
		state.ordered = s.graph.IsAncestor
	}
	return nil
}

// dispatchReady walks the tasks in topological order, so a skip decided early in
// the pass is visible to the dependents examined later in the same pass.
func (s *Scheduler) dispatchReady(r *run) {
	for _, id := range s.graph.order {
		if r.ledger.Status(id) != StatusPending {
			continue
		}
		task := s.graph.tasks[id]
		if !s.dependenciesTerminal(r.ledger, task) {
			continue
		}

		blockedBy, degradedBy := s.inspectDependencies(r.ledger, task)

		if task.RouteWhen != nil {
			take, err := evaluateRoute(task, r.state)
			if err != nil {
				now := time.Now()
				r.ledger.markFailed(id, 0, newErrorInfo(err), now, now)
				s.recordFailure(r, task, err)
				s.metrics.taskFinished(id, StatusFailed, 0, 0)
				continue
			}
			if !take {
				reason := SkipRouteNotTaken
				if len(blockedBy) > 0 {
					reason = SkipUpstreamFailed
				}
				s.skip(r, id, reason)
				continue
			}
		} else if len(blockedBy) > 0 {
			s.skip(r, id, SkipUpstreamFailed)
			continue
		}

		// Without a free slot the task stays Pending until a running one completes.
		if !s.slotFree(r) {
			continue
		}

		if len(blockedBy) > 0 {
			r.state.AddDiagnostic(Diagnostic{
				TaskID:  id,
				Message: fmt.Sprintf("route taken despite failed upstream %s", strings.Join(blockedBy, ", ")),
			})
		}
		for _, dep := range degradedBy {
			r.state.AddDiagnostic(Diagnostic{
				TaskID:  id,
				Message: fmt.Sprintf("running without output of failed dependency %s", dep),
			})
		}
		s.dispatch(r, task)
	}
}

func (s *Scheduler) slotFree(r *run) bool {
	return s.config.MaxParallelTasks <= 0 || r.running < s.config.MaxParallelTasks
}

func (s *Scheduler) dependenciesTerminal(ledger *Ledger, task *Task) bool {
	for _, dep := range task.DependsOn {
		if !ledger.Status(dep).IsTerminal() {
			return false
		}
	}
	return true
}

// inspectDependencies splits failed dependencies into blocking ones (critical
// failures and propagated skips) and degrading ones (non-critical failures).
func (s *Scheduler) inspectDependencies(ledger *Ledger, task *Task) (blockedBy, degradedBy []string) {
	for _, dep := range task.DependsOn {
		entry, _ := ledger.Get(dep)
		switch entry.Status {
		case StatusFailed:
			if s.graph.tasks[dep].Critical {
				blockedBy = append(blockedBy, dep)
			} else {
				degradedBy = append(degradedBy, dep)
			}
		case StatusSkipped:
			if entry.SkipReason.blocks() {
				blockedBy = append(blockedBy, dep)
			}
		}
	}
	return blockedBy, degradedBy
}

func evaluateRoute(task *Task, state *SharedState) (take bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.NewInternalFault(fmt.Sprintf("route predicate panicked: %v", p)).WithTask(task.ID)
		}
	}()
	return task.RouteWhen(state.View()), nil
}

func (s *Scheduler) skip(r *run, id string, reason SkipReason) {
	r.ledger.markSkipped(id, reason, time.Now())
	s.metrics.taskSkipped(id)
	logger.Op.WithTask(r.rc.RunID(), id).WithField("reason", string(reason)).Info("Task skipped")
	logger.User.Skippedf("%s skipped (%s)", id, reason)
}

func (s *Scheduler) dispatch(r *run, task *Task) {
	r.ledger.markRunning(task.ID, time.Now())
	s.metrics.taskStarted()
	r.running++
	r.wg.Add(1)

	logger.Op.WithTask(r.rc.RunID(), task.ID).Debug("Task dispatched")
	go s.execute(r, task)
}

func (s *Scheduler) execute(r *run, task *Task) {
	defer r.wg.Done()

	taskRC, cancel, attempts := r.rc.forTask(task.ID, s.config.TaskTimeout)
	defer cancel()

	c := completion{taskID: task.ID, start: time.Now()}
	var settled atomic.Bool
	done := make(chan error, 1)
	go func() { done <- s.invoke(taskRC, task, r.state, &settled) }()

	select {
	case c.err = <-done:
	case <-taskRC.Done():
		c.err = s.awaitBody(r, task, taskRC, done, &settled)
	}
	c.end = time.Now()
	c.attempts = int(attempts.Load())

	if c.err != nil && r.rc.Err() == nil && taskRC.Err() != nil && !reportsTimeout(c.err) {
		c.err = errors.NewTaskTimeoutError(task.ID, s.config.TaskTimeout).WithCause(c.err)
	}
	r.completions <- c
}

// reportsTimeout reports whether err already surfaces as a task timeout. A
// timeout behind a cancellation error, as RetryPolicy returns it, does not.
func reportsTimeout(err error) bool {
	return errors.KindOf(err) == errors.KindExternalService && errors.IsTaskTimeout(err)
}

// awaitBody waits up to the abandon grace for a body whose context is done. A
// body still running after that is abandoned: the task fails with the context's
// cause and whatever the body returns later is never committed.
func (s *Scheduler) awaitBody(r *run, task *Task, taskRC *RunContext, done <-chan error, settled *atomic.Bool) error {
	grace := s.config.AbandonGrace
	if grace <= 0 {
		grace = DefaultAbandonGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	}
	if !settled.CompareAndSwap(false, true) {
		// The body returned just now and is committing.
		return <-done
	}

	logger.Op.WithTask(r.rc.RunID(), task.ID).WithField("grace", grace.String()).
		Warn("Task ignored cancellation, abandoning it")
	if cause := context.Cause(taskRC); cause != nil {
		return cause
	}
	return taskRC.Err()
}

// invoke runs the body and commits its update unless the scheduler already
// abandoned the task. A panic becomes an InternalFault.
func (s *Scheduler) invoke(rc *RunContext, task *Task, state *SharedState, settled *atomic.Bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Op.WithTask(rc.RunID(), task.ID).
				WithField("stack", string(debug.Stack())).
				Errorf("Task panicked: %v", p)
			state.Discard(task.ID)
			err = errors.NewInternalFault(fmt.Sprintf("task panicked: %v", p)).WithTask(task.ID)
		}
	}()

	update, err := task.Handler(rc, state.View())
	if !settled.CompareAndSwap(false, true) {
		logger.Op.WithTask(rc.RunID(), task.ID).Debug("Dropping update of abandoned task")
		return err
	}
	if err != nil {
		return err
	}
	if err := state.Stage(task.ID, update); err != nil {
		return err
	}
	return state.Commit(task.ID)
}

func (s *Scheduler) complete(r *run, c completion) {
	task := s.graph.tasks[c.taskID]
	s.metrics.taskEnded()

	attempts := c.attempts
	if attempts < 1 {
		attempts = 1
	}
	took := c.end.Sub(c.start)

	if c.err == nil {
		r.ledger.markSucceeded(c.taskID, attempts, c.start, c.end)
		s.metrics.taskFinished(c.taskID, StatusSucceeded, attempts, took)
		logger.Op.WithTask(r.rc.RunID(), c.taskID).WithFields(map[string]interface{}{
			"attempts": attempts,
			"duration": took.Round(time.Millisecond).String(),
		}).Info("Task succeeded")
		return
	}

	r.ledger.markFailed(c.taskID, attempts, newErrorInfo(c.err), c.start, c.end)
	s.metrics.taskFinished(c.taskID, StatusFailed, attempts, took)
	s.recordFailure(r, task, c.err)
}

func (s *Scheduler) recordFailure(r *run, task *Task, err error) {
	kind := errors.KindOf(err)
	logger.Op.WithTask(r.rc.RunID(), task.ID).WithFields(map[string]interface{}{
		"kind":     string(kind),
		"critical": task.Critical,
		"error":    err.Error(),
	}).Warn("Task failed")

	r.state.AddDiagnostic(Diagnostic{TaskID: task.ID, Kind: kind, Message: err.Error()})
	if task.Critical {
		r.state.SetFatal(task.ID, fmt.Sprintf("critical task %s failed", task.ID))
		logger.User.Errorf("Critical task %s failed: %s", task.ID, errors.DisplayErrorSummary(err))
	} else {
		logger.User.Warnf("Task %s failed: %s", task.ID, errors.DisplayErrorSummary(err))
	}
}

func (s *Scheduler) cancelPending(r *run) {
	cause := r.rc.Cause()
	if cause == nil {
		cause = r.rc.Err()
	}
	logger.User.Warnf("Run cancelled: %v", cause)
	r.state.AddDiagnostic(Diagnostic{Kind: errors.KindCancelled, Message: fmt.Sprintf("run cancelled: %v", cause)})

	for _, id := range s.graph.order {
		if r.ledger.Status(id) == StatusPending {
			s.skip(r, id, SkipCancelled)
		}
	}
}

func (s *Scheduler) progressInfo(r *run, start time.Time) progress.ProgressInfo {
	sum := r.ledger.Summary()
	elapsed := time.Since(start)
	done := sum.Succeeded + sum.Failed + sum.Skipped
	return progress.ProgressInfo{
		RunID:             r.rc.RunID(),
		TotalTasks:        sum.Total,
		SucceededTasks:    sum.Succeeded,
		FailedTasks:       sum.Failed,
		SkippedTasks:      sum.Skipped,
		RunningTasks:      r.ledger.RunningTasks(),
		PendingTasks:      sum.Pending,
		ElapsedTime:       elapsed,
		EstimatedTimeLeft: progress.CalculateETA(done, sum.Total, elapsed),
	}
}

func (s *Scheduler) logFinal(result *RunResult) {
	sum := result.Ledger.Summary()
	logger.Op.WithFields(map[string]interface{}{
		"run_id":    result.RunID,
		"outcome":   result.Outcome(),
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
		"duration":  result.Duration.Round(time.Millisecond).String(),
	}).Info("Graph run finished")

	switch {
	case result.Fatal:
		logger.User.Errorf("Run %s failed after %s: %d succeeded, %d failed, %d skipped",
			result.RunID, progress.FormatDuration(result.Duration), sum.Succeeded, sum.Failed, sum.Skipped)
	case result.Cancelled:
		logger.User.Warnf("Run %s cancelled after %s: %d succeeded, %d failed, %d skipped",
			result.RunID, progress.FormatDuration(result.Duration), sum.Succeeded, sum.Failed, sum.Skipped)
	default:
		logger.User.Successf("Run %s finished in %s: %d succeeded, %d failed, %d skipped",
			result.RunID, progress.FormatDuration(result.Duration), sum.Succeeded, sum.Failed, sum.Skipped)
	}
}
