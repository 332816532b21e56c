package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates a request that cannot be configured as given.
	// Never retried; the affected service is recorded as Skipped.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: action timeouts, an element that is not rendered yet.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassStructural indicates the UI does not look the way the procedure
	// expects. Examples: target missing after the page settled, signal mismatch.
	ErrorClassStructural ErrorClass = "structural"

	// ErrorClassSession indicates the browser session could not be opened,
	// was lost, or could not be recovered.
	ErrorClassSession ErrorClass = "session"

	// ErrorClassRunTimeout indicates the run exceeded its overall deadline.
	ErrorClassRunTimeout ErrorClass = "run_timeout"

	// ErrorClassCancelled indicates the caller cancelled the run.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// IsRetryable reports whether failures of this class are retried by the executor.
func (c ErrorClass) IsRetryable() bool {
	return c == ErrorClassTransient
}

// IsFatal reports whether failures of this class abort the whole run.
func (c ErrorClass) IsFatal() bool {
	return c == ErrorClassSession || c == ErrorClassRunTimeout || c == ErrorClassCancelled
}

// Driver-level sentinel errors. Page implementations wrap these so the
// executor can classify failures without knowing the driver.
var (
	// ErrTargetNotFound is returned when a target is absent after the page settled.
	ErrTargetNotFound = errors.New("target not found")

	// ErrNotRendered is returned when a target exists in the page model but is
	// not yet interactable.
	ErrNotRendered = errors.New("target not rendered")

	// ErrSessionLost is returned when the underlying browser is gone.
	ErrSessionLost = errors.New("session lost")
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the request ID or selector that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	case e.Resource != "":
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorClassValidation, ErrCodeValidation, message, err)
}

// NewTransientError creates a new transient action error.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, ErrCodeTimeout, message, err)
}

// NewStructuralError creates a new structural error.
func NewStructuralError(message string, err error) *EngineError {
	return newError(ErrorClassStructural, ErrCodeNotFound, message, err)
}

// NewSessionError creates a new session error.
func NewSessionError(message string, err error) *EngineError {
	return newError(ErrorClassSession, ErrCodeSessionLost, message, err)
}

// NewRunTimeoutError creates a new run timeout error.
func NewRunTimeoutError(message string, err error) *EngineError {
	return newError(ErrorClassRunTimeout, ErrCodeRunTimeout, message, err)
}

// NewCancelledError creates a new cancellation error.
func NewCancelledError(message string, err error) *EngineError {
	return newError(ErrorClassCancelled, ErrCodeCancelled, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the classification of err. Errors that carry no
// classification are mapped from the driver sentinels and context errors;
// anything else is treated as transient.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	switch {
	case errors.Is(err, ErrSessionLost):
		return ErrorClassSession
	case errors.Is(err, ErrTargetNotFound):
		return ErrorClassStructural
	case errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	default:
		return ErrorClassTransient
	}
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	return ClassOf(err) == ErrorClassValidation
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}

// IsStructural returns true if the error is classified as structural.
func IsStructural(err error) bool {
	return ClassOf(err) == ErrorClassStructural
}

// IsSession returns true if the error is classified as a session error.
func IsSession(err error) bool {
	return ClassOf(err) == ErrorClassSession
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return ClassOf(err).IsRetryable()
}

// Common error codes.
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeUnknownKind           = "UNKNOWN_KIND"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeSignalMismatch        = "SIGNAL_MISMATCH"
	ErrCodeSessionOpenFailed     = "SESSION_OPEN_FAILED"
	ErrCodeSessionRecoveryFailed = "SESSION_RECOVERY_FAILED"
	ErrCodeSessionLost           = "SESSION_LOST"
	ErrCodeRunTimeout            = "RUN_TIMEOUT"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodeLinkGenerationFailed  = "LINK_GENERATION_FAILED"
)
