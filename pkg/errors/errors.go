package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"time"
)

// AppError represents a standardized application error
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   Severity               `json:"severity"`
}

// Severity levels for errors
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error codes
const (
	// Configuration errors
	CodeConfigInvalid = "CONFIG_INVALID"

	// Identity errors
	CodeNotFound       = "RESOURCE_NOT_FOUND"
	CodeAlreadyExists  = "RESOURCE_ALREADY_EXISTS"
	CodeAlreadyRunning = "OPERATION_ALREADY_RUNNING"

	// Replication errors
	CodeCopyFailed = "COPY_FAILED"

	// System errors
	CodeSystemTimeout = "SYSTEM_TIMEOUT"
)

// Sentinels para comparação com errors.Is (comparados pelo código)
var (
	ErrConfiguration  = &AppError{Code: CodeConfigInvalid}
	ErrNotFound       = &AppError{Code: CodeNotFound}
	ErrAlreadyExists  = &AppError{Code: CodeAlreadyExists}
	ErrAlreadyRunning = &AppError{Code: CodeAlreadyRunning}
	ErrTransientCopy  = &AppError{Code: CodeCopyFailed}
)

// New creates a new standardized error
func New(code, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	return &AppError{
		Code:       code,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
		Severity:   SeverityMedium, // Default severity
	}
}

// NewWithSeverity creates an error with specific severity
func NewWithSeverity(severity Severity, code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = severity
	return err
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Wrap wraps another error as the cause
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithSeverity sets the severity level
func (e *AppError) WithSeverity(severity Severity) *AppError {
	e.Severity = severity
	return e
}

// IsRecoverable returns true if the error might be recoverable
func (e *AppError) IsRecoverable() bool {
	switch e.Severity {
	case SeverityCritical, SeverityHigh:
		return false
	default:
		return true
	}
}

// ToMap converts the error to a map for structured logging
func (e *AppError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code":      e.Code,
		"error_message":   e.Message,
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_severity":  string(e.Severity),
		"error_timestamp": e.Timestamp,
	}

	if e.StackTrace != "" {
		result["error_stack_trace"] = e.StackTrace
	}

	if e.Cause != nil {
		result["error_cause"] = e.Cause.Error()
	}

	for k, v := range e.Metadata {
		result[fmt.Sprintf("error_meta_%s", k)] = v
	}

	return result
}

// Convenience functions for common error types

// ConfigError creates a configuration error
func ConfigError(component, operation, message string) *AppError {
	return New(CodeConfigInvalid, component, operation, message)
}

// NotFoundError creates an unknown-name error
func NotFoundError(component, operation, message string) *AppError {
	return New(CodeNotFound, component, operation, message).WithSeverity(SeverityLow)
}

// AlreadyExistsError creates a duplicate-name error
func AlreadyExistsError(component, operation, message string) *AppError {
	return New(CodeAlreadyExists, component, operation, message).WithSeverity(SeverityLow)
}

// AlreadyRunningError creates a duplicate-operation error
func AlreadyRunningError(component, operation, message string) *AppError {
	return New(CodeAlreadyRunning, component, operation, message).WithSeverity(SeverityLow)
}

// CopyError creates a transient copy error
func CopyError(operation, message string) *AppError {
	return New(CodeCopyFailed, "copier", operation, message)
}

// AsAppError converts an error to AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// WrapError wraps a standard error into an AppError
func WrapError(err error, component, operation, message string) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	return New("WRAPPED_ERROR", component, operation, message).Wrap(err)
}
