package errors

import (
	"context"
	stderrors "errors"
	"net"
)

// Common error codes
const (
	// Graph and state error codes
	CodeGraphInvalid   = "001"
	CodeUnknownKey     = "002"
	CodeStrategyMisuse = "003"
	CodeMissingInput   = "004"
	CodeInvalidConfig  = "005"
	CodeInternalPanic  = "006"

	// External service error codes
	CodeServiceRequest  = "010"
	CodeServiceResponse = "011"
	CodeServiceAuth     = "012"
	CodeRateLimited     = "013"

	// Tool error codes
	CodeToolMissing = "020"
	CodeToolFailed  = "021"
	CodeToolOutput  = "022"

	// Run error codes
	CodeCancelled        = "030"
	CodeRetriesExhausted = "031"
	CodeTaskTimeout      = "032"
)

// KindOf returns the kind of err. Context cancellation maps to KindCancelled; anything that
// is not a pipeline error maps to KindTask.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var cyc *CyclicGraphError
	if stderrors.As(err, &cyc) {
		return KindCyclicGraph
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindTask
}

// IsTaskTimeout reports whether err, or any error it wraps, is a per-task timeout.
func IsTaskTimeout(err error) bool {
	for err != nil {
		var pe *PipelineError
		if !stderrors.As(err, &pe) {
			return false
		}
		if pe.Code == CodeTaskTimeout {
			return true
		}
		err = pe.Err
	}
	return false
}

// IsRetryableError determines if an error is retryable. The outermost pipeline error decides;
// bare network timeouts are retryable, everything else is not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Retryable
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// GetErrorSeverity returns the severity level of an error
func GetErrorSeverity(err error) string {
	switch KindOf(err) {
	case KindValidation, KindToolExecution:
		return "WARNING"
	case KindCyclicGraph, KindInternalFault, KindExhaustedRetries:
		return "CRITICAL"
	case KindCancelled:
		return "INFO"
	default:
		return "ERROR"
	}
}
