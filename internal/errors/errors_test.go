package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestPipelineError_IsMatchesKindSentinel(t *testing.T) {
	err := NewExternalServiceError(CodeServiceRequest, "model call failed", "llm.generate", true)
	wrapped := fmt.Errorf("security: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrExternalService))
	assert.False(t, stderrors.Is(wrapped, ErrValidation))
}

func TestExhaustedRetries_WrapsLastError(t *testing.T) {
	last := NewExternalServiceError(CodeRateLimited, "rate limited", "llm.generate", true)
	err := NewExhaustedRetriesError("llm.generate", 3, last)

	assert.True(t, stderrors.Is(err, ErrExhaustedRetries))
	assert.True(t, stderrors.Is(err, ErrExternalService), "last error stays reachable")
	assert.Equal(t, KindExhaustedRetries, KindOf(err))
	assert.False(t, IsRetryableError(err))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestCyclicGraphError(t *testing.T) {
	err := NewCyclicGraphError("review", []string{"b", "a"})

	assert.True(t, stderrors.Is(err, ErrCyclicGraph))
	assert.Equal(t, KindCyclicGraph, KindOf(fmt.Errorf("build: %w", err)))
	assert.Equal(t, []string{"a", "b"}, err.Tasks)
	assert.Equal(t, `graph "review" has a dependency cycle through: a, b`, err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", stderrors.New("boom"), KindTask},
		{"context cancelled", context.Canceled, KindCancelled},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindCancelled},
		{"tool", NewToolExecutionError(CodeToolFailed, "radon failed", "radon"), KindToolExecution},
		{"fault", NewInternalFault("panic: nil map"), KindInternalFault},
		{"task timeout", NewTaskTimeoutError("style", time.Minute), KindExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsTaskTimeout(t *testing.T) {
	timeout := NewTaskTimeoutError("security", 30*time.Second)
	assert.True(t, IsTaskTimeout(timeout))
	assert.True(t, IsTaskTimeout(NewCancelledError("retry", timeout)), "found behind a wrapping pipeline error")
	assert.False(t, IsTaskTimeout(NewCancelledError("run", context.Canceled)))
	assert.False(t, IsTaskTimeout(stderrors.New("boom")))
	assert.False(t, IsRetryableError(timeout))
	assert.Equal(t, "security", timeout.TaskID)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable service", NewExternalServiceError(CodeServiceRequest, "503", "op", true), true},
		{"fatal service", NewExternalServiceError(CodeServiceAuth, "401", "op", false), false},
		{"validation", NewValidationError(CodeMissingInput, "no path", "ingest"), false},
		{"network timeout", timeoutErr{}, true},
		{"cancelled", context.Canceled, false},
		{"plain", stderrors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestPipelineError_ErrorFormat(t *testing.T) {
	err := NewValidationError(CodeMissingInput, "input path does not exist", "ingest").
		WithTask("ingest").
		WithContext("path", "/nope").
		WithCause(stderrors.New("stat /nope: no such file or directory"))

	assert.Equal(t,
		"VALIDATION-004: task ingest: input path does not exist [path=/nope]: stat /nope: no such file or directory",
		err.Error())
}

func TestFormatForCLI(t *testing.T) {
	err := NewValidationError(CodeInvalidConfig, "invalid configuration", "config.Validate").
		WithContext("llm.provider", "bogus").
		WithHint("Use gemini or ollama")

	out := FormatForCLI(err)
	require.Contains(t, out, "VALIDATION Error [VALIDATION-005]")
	assert.Contains(t, out, "llm.provider: bogus")
	assert.Contains(t, out, "1. Use gemini or ollama")
	assert.True(t, IsUserError(err))
	assert.Equal(t, "VALIDATION-005", GetErrorCode(err))

	assert.Equal(t, "\nError: boom\n", FormatForCLI(stderrors.New("boom")))
	assert.Equal(t, "UNKNOWN", GetErrorCode(stderrors.New("boom")))
}

func TestGetErrorSeverity(t *testing.T) {
	assert.Equal(t, "WARNING", GetErrorSeverity(NewToolExecutionError(CodeToolFailed, "x", "y")))
	assert.Equal(t, "CRITICAL", GetErrorSeverity(NewInternalFault("x")))
	assert.Equal(t, "INFO", GetErrorSeverity(context.Canceled))
	assert.Equal(t, "ERROR", GetErrorSeverity(stderrors.New("x")))
}
