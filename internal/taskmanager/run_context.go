package taskmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maxkimambo/revgraph/internal/errors"
)

type attemptsKey struct{}

type runCore struct {
	runID     string
	once      sync.Once
	cancelled atomic.Bool
	cancel    context.CancelCauseFunc
	release   context.CancelFunc
}

// RunContext carries the cancellation signal and deadline of one run. It is a
// context.Context, so task bodies pass it straight to blocking calls.
type RunContext struct {
	context.Context
	core   *runCore
	taskID string
}

type runOptions struct {
	runID    string
	deadline time.Time
}

// RunOption configures a RunContext.
type RunOption func(*runOptions)

// WithDeadline sets an absolute deadline for the run.
func WithDeadline(deadline time.Time) RunOption {
	return func(o *runOptions) { o.deadline = deadline }
}

// WithTimeout sets the deadline relative to now. Zero or negative means none.
func WithTimeout(timeout time.Duration) RunOption {
	return func(o *runOptions) {
		if timeout > 0 {
			o.deadline = time.Now().Add(timeout)
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// NewRunContext creates the context for one run. Call Release once the run has
// finished.
func NewRunContext(parent context.Context, opts ...RunOption) *RunContext {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	ctx, cancel := context.WithCancelCause(parent)
	release := func() {}
	if !o.deadline.IsZero() {
		var stop context.CancelFunc
		ctx, stop = context.WithDeadlineCause(ctx, o.deadline,
			errors.NewCancelledError("run", context.DeadlineExceeded).WithContext("deadline", o.deadline.Format(time.RFC3339)))
		release = stop
	}

	return &RunContext{
		Context: ctx,
		core: &runCore{
			runID:   o.runID,
			cancel:  cancel,
			release: release,
		},
	}
}

// RunID returns the identifier of the run.
func (rc *RunContext) RunID() string {
	return rc.core.runID
}

// TaskID returns the task this context was handed to, or "" for the run itself.
func (rc *RunContext) TaskID() string {
	return rc.taskID
}

// Cancel requests cooperative cancellation. Only the first call has an effect.
func (rc *RunContext) Cancel() {
	rc.core.once.Do(func() {
		rc.core.cancelled.Store(true)
		rc.core.cancel(errors.NewCancelledError("run", context.Canceled))
	})
}

// Cancelled reports whether the run was cancelled or its deadline has passed.
func (rc *RunContext) Cancelled() bool {
	return rc.core.cancelled.Load() || rc.Err() != nil
}

// Cause returns why the context is done, or nil.
func (rc *RunContext) Cause() error {
	return context.Cause(rc.Context)
}

// Release frees the deadline timer. The context reads as done afterwards.
func (rc *RunContext) Release() {
	rc.core.release()
	rc.core.cancel(nil)
}

// forTask derives the context handed to one task body. It shares the run's
// cancellation, adds the per-task timeout and counts RetryPolicy attempts.
func (rc *RunContext) forTask(taskID string, timeout time.Duration) (*RunContext, context.CancelFunc, *atomic.Int32) {
	attempts := &atomic.Int32{}
	ctx := context.WithValue(rc.Context, attemptsKey{}, attempts)
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeoutCause(ctx, timeout,
			errors.NewTaskTimeoutError(taskID, timeout).WithCause(context.DeadlineExceeded))
	}
	return &RunContext{Context: ctx, core: rc.core, taskID: taskID}, cancel, attempts
}

// recordAttempt counts one attempt against the task that owns ctx, if any.
func recordAttempt(ctx context.Context) {
	if counter, ok := ctx.Value(attemptsKey{}).(*atomic.Int32); ok {
		counter.Add(1)
	}
}
