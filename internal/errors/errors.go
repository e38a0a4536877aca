// Package errors provides structured error handling for openvas-connector.
// It defines error codes, error types for OMP command execution and
// configuration, and helpers for inspecting errors by code.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"

	// OMP command errors.
	CodeExecution     ErrorCode = "OMP_EXECUTION"
	CodeBinaryMissing ErrorCode = "OMP_BINARY_MISSING"
	CodeRejected      ErrorCode = "OMP_REJECTED"
	CodeParse         ErrorCode = "OMP_PARSE"
	CodeUnexpected    ErrorCode = "OMP_UNEXPECTED_RESPONSE"

	// Task lifecycle errors.
	CodeTaskAborted ErrorCode = "TASK_ABORTED"

	// Listener errors.
	CodeListen ErrorCode = "LISTEN"
)

// CommandError represents a failure while running an OMP command.
type CommandError struct {
	Code       ErrorCode
	Message    string
	Command    string
	ExitCode   int
	Stderr     string
	Status     string
	StatusText string
	Cause      error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Command != "" {
		msg += fmt.Sprintf(" (command: %s)", e.Command)
	}
	if e.Status != "" {
		msg += fmt.Sprintf(": %s %s", e.Status, e.StatusText)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *CommandError) Unwrap() error {
	return e.Cause
}

// NewCommandError creates a command error for the named OMP command.
func NewCommandError(code ErrorCode, message, command string) *CommandError {
	return &CommandError{
		Code:    code,
		Message: message,
		Command: command,
	}
}

// WrapCommandError wraps an existing error as a command error.
func WrapCommandError(code ErrorCode, message, command string, err error) *CommandError {
	return &CommandError{
		Code:    code,
		Message: message,
		Command: command,
		Cause:   err,
	}
}

// WithStderr attaches the captured standard error of the omp process.
func (e *CommandError) WithStderr(stderr string) *CommandError {
	e.Stderr = stderr
	return e
}

// WithExitCode records the exit status of the omp process.
func (e *CommandError) WithExitCode(code int) *CommandError {
	e.ExitCode = code
	return e
}

// WithStatus records the status attributes of a rejected OMP response.
func (e *CommandError) WithStatus(status, text string) *CommandError {
	e.Status = status
	e.StatusText = text
	return e
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// TaskError reports a scan task that reached a state other than the one
// the caller was waiting for.
type TaskError struct {
	Code    ErrorCode
	TaskID  string
	Status  string
	Message string
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("[%s] %s (task: %s, status: %s)", e.Code, e.Message, e.TaskID, e.Status)
}

// ErrTaskAborted creates an error for a task that stopped before finishing.
func ErrTaskAborted(taskID, status string) *TaskError {
	return &TaskError{
		Code:    CodeTaskAborted,
		TaskID:  taskID,
		Status:  status,
		Message: "task ended without completing",
	}
}

// ListenError reports a failure to bind or serve the alert listener.
type ListenError struct {
	Code    ErrorCode
	Address string
	Cause   error
}

// Error implements the error interface.
func (e *ListenError) Error() string {
	return fmt.Sprintf("[%s] alert listener on %s failed: %v", e.Code, e.Address, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ListenError) Unwrap() error {
	return e.Cause
}

// ErrListen creates an error for a listener that could not bind or serve.
func ErrListen(address string, err error) *ListenError {
	return &ListenError{Code: CodeListen, Address: address, Cause: err}
}

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Code
	}
	var listenErr *ListenError
	if errors.As(err, &listenErr) {
		return listenErr.Code
	}
	return CodeUnknown
}

// IsFatal determines if an error indicates a condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeBinaryMissing:
		return true
	default:
		return false
	}
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}

// ErrInvalidRequest creates a validation error for a malformed OMP request.
func ErrInvalidRequest(command string, err error) *CommandError {
	return WrapCommandError(CodeValidation, "invalid request", command, err)
}
