package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeStructural        = "STRUCTURAL_ERROR"
	ErrCodeScriptSyntax      = "SCRIPT_SYNTAX"
	ErrCodeScriptRuntime     = "SCRIPT_RUNTIME"
	ErrCodeSecurityViolation = "SECURITY_VIOLATION"
	ErrCodeHalted            = "HALTED"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
)

// SimError is the structured error type for all simachine operations.
type SimError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StatePath string         `json:"state_path,omitempty"`
	Cause     error          `json:"-"`
}

func (e *SimError) Error() string {
	if e.StatePath != "" {
		return fmt.Sprintf("[%s] state %s: %s", e.Code, e.StatePath, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SimError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SimError.
func NewError(code, message string) *SimError {
	return &SimError{Code: code, Message: message}
}

// NewErrorf creates a new SimError with a formatted message.
func NewErrorf(code, format string, args ...any) *SimError {
	return &SimError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithState attaches the dotted state path where the error occurred.
func (e *SimError) WithState(path string) *SimError {
	e.StatePath = path
	return e
}

// WithCause attaches an underlying cause.
func (e *SimError) WithCause(err error) *SimError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SimError) WithDetails(details map[string]any) *SimError {
	e.Details = details
	return e
}
