package workflows

import (
	"fmt"
)

// Application error types reported by RunChainActivity.
const (
	// ErrTypeChainBusy means another controller holds the chain. Retried.
	ErrTypeChainBusy = "ChainBusy"
	// ErrTypeChainFailed means the chain ended with an internal error or
	// cancellation. Not retried: a chain may have pushed commits.
	ErrTypeChainFailed = "ChainFailed"
	// ErrTypeInvalidRequest means the request failed validation.
	ErrTypeInvalidRequest = "InvalidRequest"
)

// ErrorSeverity says whether a workflow error fails the workflow.
type ErrorSeverity string

const (
	// ErrorSeverityCritical indicates the workflow must fail
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityLow indicates a failure recorded in the outcome only
	ErrorSeverityLow ErrorSeverity = "low"
)

// WorkflowError represents a structured error in a workflow
type WorkflowError struct {
	Operation string        // The operation that failed (e.g., "validate_request", "run_chain")
	Severity  ErrorSeverity // How severe the error is
	Err       error         // The underlying error
	Context   string        // Additional context about the error
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context
func NewWorkflowError(operation string, severity ErrorSeverity, err error, context string) *WorkflowError {
	return &WorkflowError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// FormatErrorForResult formats an error for ChainOutcome.Errors.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}
