package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for engine operations
var (
	// ErrMaxIterations indicates the decision loop exhausted its iteration budget
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoBackend indicates no decision backend is configured
	ErrNoBackend = errors.New("no decision backend configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrEmptyPlan indicates a multi-step plan had no executable steps
	ErrEmptyPlan = errors.New("plan has no executable steps")
)

// ToolErrorType categorizes tool execution errors for retry logic.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
)

// ToolError is a structured error from tool execution with categorization
// and context about the failure.
type ToolError struct {
	Type     ToolErrorType
	ToolName string
	CallID   string
	Cause    error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %s: %s: %v", e.ToolName, e.Type, e.Cause)
	}
	return fmt.Sprintf("tool %s: %s", e.ToolName, e.Type)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError for the named tool.
func NewToolError(toolName string, errType ToolErrorType, cause error) *ToolError {
	return &ToolError{Type: errType, ToolName: toolName, Cause: cause}
}

// BackendErrorClass is the coarse classification of a decision-backend
// error, used to decide whether failing over to another backend is worth
// trying.
type BackendErrorClass string

const (
	BackendErrorTimeout          BackendErrorClass = "timeout"
	BackendErrorRateLimit        BackendErrorClass = "rate_limit"
	BackendErrorAuth             BackendErrorClass = "auth"
	BackendErrorBilling          BackendErrorClass = "billing"
	BackendErrorModelUnavailable BackendErrorClass = "model_unavailable"
	BackendErrorServer           BackendErrorClass = "server_error"
	BackendErrorUnknown          BackendErrorClass = "unknown"
)

// ClassifyBackendError determines the error class from the error content.
func ClassifyBackendError(err error) BackendErrorClass {
	if err == nil {
		return BackendErrorUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return BackendErrorTimeout
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return BackendErrorRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return BackendErrorAuth
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "402") {
		return BackendErrorBilling
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return BackendErrorModelUnavailable
	}

	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "internal server error") {
		return BackendErrorServer
	}

	return BackendErrorUnknown
}

// IsBackendRetryable reports whether retrying the same backend may succeed.
func IsBackendRetryable(err error) bool {
	switch ClassifyBackendError(err) {
	case BackendErrorTimeout, BackendErrorRateLimit, BackendErrorServer:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether an error warrants trying a different
// backend instead of retrying the same one.
func ShouldFailover(err error) bool {
	switch ClassifyBackendError(err) {
	case BackendErrorAuth, BackendErrorBilling, BackendErrorModelUnavailable:
		return true
	default:
		return false
	}
}
