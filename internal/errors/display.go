package errors

import (
	"fmt"
	"sort"
	"strings"
)

// DisplayErrorSummary provides a brief summary of the error for logs and ledger output.
func DisplayErrorSummary(err error) string {
	if pe, ok := err.(*PipelineError); ok {
		return fmt.Sprintf("%s-%s: %s", pe.Kind, pe.Code, pe.Message)
	}

	errStr := err.Error()
	if len(errStr) > 100 {
		return errStr[:97] + "..."
	}
	return errStr
}

// FormatForCLI formats an error for command-line display with proper spacing
func FormatForCLI(err error) string {
	pe, ok := err.(*PipelineError)
	if !ok {
		return fmt.Sprintf("\nError: %v\n", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n%s Error [%s-%s]\n", pe.Kind, pe.Kind, pe.Code))
	sb.WriteString(fmt.Sprintf("  %s\n", pe.Message))

	if pe.Operation != "" {
		sb.WriteString(fmt.Sprintf("\nFailed Operation: %s\n", pe.Operation))
	}
	if pe.TaskID != "" {
		sb.WriteString(fmt.Sprintf("Task: %s\n", pe.TaskID))
	}

	if len(pe.Context) > 0 {
		keys := make([]string, 0, len(pe.Context))
		for k := range pe.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nDetails:\n")
		for _, key := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", key, pe.Context[key]))
		}
	}

	if len(pe.Hints) > 0 {
		sb.WriteString("\nHow to resolve:\n")
		for i, step := range pe.Hints {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, step))
		}
	}

	if pe.Err != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", pe.Err))
	}

	return sb.String()
}

// IsUserError determines if an error is due to user input/configuration
func IsUserError(err error) bool {
	return KindOf(err) == KindValidation
}

// GetErrorCode extracts the error code for reporting
func GetErrorCode(err error) string {
	if pe, ok := err.(*PipelineError); ok {
		return fmt.Sprintf("%s-%s", pe.Kind, pe.Code)
	}
	return "UNKNOWN"
}
