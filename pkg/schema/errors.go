package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeConfig                 = "CONFIG_ERROR"
	ErrCodeClassification         = "CLASSIFICATION_ERROR"
	ErrCodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	ErrCodeMalformedResponse      = "MALFORMED_RESPONSE"
	ErrCodeToolInvocation         = "TOOL_INVOCATION_ERROR"
	ErrCodeRetryExhausted         = "RETRY_EXHAUSTED"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeCircuitOpen            = "CIRCUIT_OPEN"
	ErrCodeStore                  = "STORE_ERROR"
	ErrCodeCancelled              = "CANCELLED"
	ErrCodeTimeout                = "TIMEOUT_ERROR"
)

// CortexError is the structured error type for all cortex operations.
type CortexError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CortexError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("[%s] tool %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CortexError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CortexError.
func NewError(code, message string) *CortexError {
	return &CortexError{Code: code, Message: message}
}

// NewErrorf creates a new CortexError with a formatted message.
func NewErrorf(code, format string, args ...any) *CortexError {
	return &CortexError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTool attaches the failing tool's name to the error.
func (e *CortexError) WithTool(tool string) *CortexError {
	e.Tool = tool
	return e
}

// WithCause attaches an underlying cause.
func (e *CortexError) WithCause(err error) *CortexError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CortexError) WithDetails(details map[string]any) *CortexError {
	e.Details = details
	return e
}

// IsRetryable reports whether the error code permits another attempt.
// Validation, config, routing, and conflict failures never benefit from a
// retry; transport and execution failures do.
func (e *CortexError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeConfig, ErrCodeMalformedResponse,
		ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidTransition,
		ErrCodeConcurrentModification, ErrCodeCircuitOpen, ErrCodeCancelled:
		return false
	default:
		return true
	}
}
