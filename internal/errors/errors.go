package errors

import "fmt"

// ErrorCode represents a Tend error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrStaleReference ErrorCode = "STALE_REFERENCE" // 409
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrConfiguration  ErrorCode = "CONFIGURATION"   // 412
	ErrNetwork        ErrorCode = "NETWORK"         // 502
	ErrToolExecution  ErrorCode = "TOOL_EXECUTION"  // 500
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// TendError represents a structured error with code, status, and details.
type TendError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *TendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *TendError {
	return &TendError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a document or tracked line
// cannot be located.
func NewNotFound(identifier string) *TendError {
	return &TendError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewStaleReference creates a 409 error for a tracked reference whose anchor
// no longer matches its document.
func NewStaleReference(document string, line int) *TendError {
	return &TendError{
		Code:    ErrStaleReference,
		Status:  409,
		Message: fmt.Sprintf("stale reference: %s:%d", document, line),
		Details: map[string]any{"document": document, "line": line},
	}
}

// NewConflict creates a 409 error for a guarded write that found the target
// line changed between read and write.
func NewConflict(msg string) *TendError {
	return &TendError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewConfiguration creates a 412 error for a missing or disabled capability
// (no model client configured, coach disabled). Never retried.
func NewConfiguration(msg string) *TendError {
	return &TendError{
		Code:    ErrConfiguration,
		Status:  412,
		Message: msg,
	}
}

// NewNetwork creates a 502 error for a transport failure that exhausted its
// retries.
func NewNetwork(err error) *TendError {
	msg := "network error"
	if err != nil {
		msg = err.Error()
	}
	return &TendError{
		Code:    ErrNetwork,
		Status:  502,
		Message: msg,
	}
}

// NewToolExecution creates a 500 error for an approved tool that failed
// mid-apply. Recorded on the approval block, never thrown past the turn.
func NewToolExecution(tool string, err error) *TendError {
	msg := "tool execution failed"
	if err != nil {
		msg = err.Error()
	}
	return &TendError{
		Code:    ErrToolExecution,
		Status:  500,
		Message: fmt.Sprintf("%s: %s", tool, msg),
		Details: map[string]any{"tool": tool},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *TendError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &TendError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a TendError with the given code.
func Is(err error, code ErrorCode) bool {
	if tErr, ok := err.(*TendError); ok {
		return tErr.Code == code
	}
	return false
}
