package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a failure by where it came from and how the scheduler treats it.
type Kind string

const (
	// KindCyclicGraph is a build-time dependency cycle.
	KindCyclicGraph Kind = "CYCLIC_GRAPH"
	// KindValidation is a violated precondition on a task's inputs or on configuration.
	KindValidation Kind = "VALIDATION"
	// KindExternalService is a failed call to a remote service (model endpoint, git remote).
	KindExternalService Kind = "EXTERNAL_SERVICE"
	// KindToolExecution is a failed external executable.
	KindToolExecution Kind = "TOOL_EXECUTION"
	// KindInternalFault is a panic or unexpected fault inside a task body.
	KindInternalFault Kind = "INTERNAL_FAULT"
	// KindCancelled is a run cancelled by the caller or by its deadline.
	KindCancelled Kind = "CANCELLED"
	// KindExhaustedRetries is the last error of a retried operation once the attempt bound is reached.
	KindExhaustedRetries Kind = "EXHAUSTED_RETRIES"
	// KindTask is an unclassified error returned by a task body.
	KindTask Kind = "TASK"
)

// Sentinels usable with errors.Is against any error of the matching kind.
var (
	ErrCyclicGraph      = stderrors.New("cyclic graph")
	ErrValidation       = stderrors.New("validation failed")
	ErrExternalService  = stderrors.New("external service failed")
	ErrToolExecution    = stderrors.New("tool execution failed")
	ErrInternalFault    = stderrors.New("internal fault")
	ErrCancelled        = stderrors.New("cancelled")
	ErrExhaustedRetries = stderrors.New("retries exhausted")
)

func (k Kind) sentinel() error {
	switch k {
	case KindCyclicGraph:
		return ErrCyclicGraph
	case KindValidation:
		return ErrValidation
	case KindExternalService:
		return ErrExternalService
	case KindToolExecution:
		return ErrToolExecution
	case KindInternalFault:
		return ErrInternalFault
	case KindCancelled:
		return ErrCancelled
	case KindExhaustedRetries:
		return ErrExhaustedRetries
	}
	return nil
}

// PipelineError is a structured error with context and resolution hints.
type PipelineError struct {
	Kind      Kind
	Code      string
	Message   string
	Operation string
	TaskID    string
	Retryable bool
	Context   map[string]interface{}
	Hints     []string
	Err       error
}

// Error implements the error interface. The output is a single line; FormatForCLI renders
// the long form.
func (e *PipelineError) Error() string {
	var sb strings.Builder

	sb.WriteString(string(e.Kind))
	if e.Code != "" {
		sb.WriteString("-" + e.Code)
	}
	sb.WriteString(": ")
	if e.TaskID != "" {
		sb.WriteString(fmt.Sprintf("task %s: ", e.TaskID))
	}
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(" [" + strings.Join(parts, " ") + "]")
	}

	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the cause for error chain compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *PipelineError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New creates a new pipeline error with the specified parameters.
func New(kind Kind, code, message, operation string) *PipelineError {
	return &PipelineError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Operation: operation,
		Context:   make(map[string]interface{}),
		Hints:     []string{},
	}
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	e.Context[key] = value
	return e
}

// WithHint adds resolution hints to the error.
func (e *PipelineError) WithHint(hints ...string) *PipelineError {
	e.Hints = append(e.Hints, hints...)
	return e
}

// WithCause sets the underlying error.
func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Err = err
	return e
}

// WithTask records the task the error belongs to.
func (e *PipelineError) WithTask(taskID string) *PipelineError {
	e.TaskID = taskID
	return e
}

// AsRetryable marks the error as safe to retry.
func (e *PipelineError) AsRetryable() *PipelineError {
	e.Retryable = true
	return e
}

// CyclicGraphError is returned when a graph's dependencies contain a cycle. Tasks lists
// every task that could not be ordered.
type CyclicGraphError struct {
	GraphID string
	Tasks   []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("graph %q has a dependency cycle through: %s", e.GraphID, strings.Join(e.Tasks, ", "))
}

// Is matches ErrCyclicGraph.
func (e *CyclicGraphError) Is(target error) bool {
	return target == ErrCyclicGraph
}

// NewCyclicGraphError creates a cycle error for the given graph.
func NewCyclicGraphError(graphID string, tasks []string) *CyclicGraphError {
	sorted := append([]string(nil), tasks...)
	sort.Strings(sorted)
	return &CyclicGraphError{GraphID: graphID, Tasks: sorted}
}

// Common error constructors

// NewValidationError creates a new validation error.
func NewValidationError(code, message, operation string) *PipelineError {
	return New(KindValidation, code, message, operation)
}

// NewExternalServiceError creates a new external service error.
func NewExternalServiceError(code, message, operation string, retryable bool) *PipelineError {
	e := New(KindExternalService, code, message, operation)
	e.Retryable = retryable
	return e
}

// NewToolExecutionError creates a new tool execution error.
func NewToolExecutionError(code, message, operation string) *PipelineError {
	return New(KindToolExecution, code, message, operation)
}

// NewInternalFault creates an error for a recovered panic or other unexpected fault.
func NewInternalFault(message string) *PipelineError {
	return New(KindInternalFault, CodeInternalPanic, message, "")
}

// NewCancelledError creates an error for work stopped by cancellation.
func NewCancelledError(operation string, cause error) *PipelineError {
	return New(KindCancelled, CodeCancelled, "operation cancelled", operation).WithCause(cause)
}

// NewTaskTimeoutError creates an error for a task body that outlived its per-task timeout.
// Run-level cancellation is reported with NewCancelledError instead.
func NewTaskTimeoutError(taskID string, timeout time.Duration) *PipelineError {
	return New(KindExternalService, CodeTaskTimeout,
		fmt.Sprintf("task exceeded its %s timeout", timeout), "task "+taskID).
		WithTask(taskID).
		WithContext("timeout", timeout.String()).
		WithHint("Raise the task timeout or check the service the task was waiting on")
}

// NewExhaustedRetriesError tags the last error of a retried operation.
func NewExhaustedRetriesError(operation string, attempts int, last error) *PipelineError {
	return New(KindExhaustedRetries, CodeRetriesExhausted,
		fmt.Sprintf("gave up after %d attempts", attempts), operation).
		WithContext("attempts", attempts).
		WithCause(last)
}
