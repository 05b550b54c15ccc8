// Package errors defines the structured error type shared by the loom
// compiler, execution host and reconciler. Every condition a caller may
// branch on (not ready, bad arguments, already compiled, unknown
// invokable, ...) is a distinct type+code pair comparable with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeReconcile  ErrorType = "reconcile"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeCompileFailed    = "ERR_COMPILE"
	ErrCodeMalformedAttr    = "ERR_MALFORMED_ATTR"
	ErrCodeUnterminatedSpan = "ERR_UNTERMINATED_SPAN"
	ErrCodeTagMismatch      = "ERR_TAG_MISMATCH"
	ErrCodeNotCompiled      = "ERR_NOT_COMPILED"
	ErrCodeNotReady         = "ERR_NOT_READY"
	ErrCodeBadArguments     = "ERR_BAD_ARGUMENTS"
	ErrCodeAlreadyCompiled  = "ERR_ALREADY_COMPILED"
	ErrCodeExecution        = "ERR_EXECUTION"
	ErrCodeFallbackLoop     = "ERR_FALLBACK_LOOP"
	ErrCodeUnknownInvokable = "ERR_UNKNOWN_INVOKABLE"
	ErrCodeTargetNotFound   = "ERR_TARGET_NOT_FOUND"
	ErrCodeSelector         = "ERR_UNSATISFIABLE_SELECTOR"
	ErrCodeImportFailed     = "ERR_IMPORT_FAILED"
	ErrCodeRelayFailed      = "ERR_RELAY_FAILED"
	ErrCodeReentrantUpdate  = "ERR_REENTRANT_UPDATE"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// Sentinels for errors.Is. They match any LoomError with the same type and
// code regardless of message or context.
var (
	ErrNotCompiled      = &LoomError{Type: ErrorTypeValidation, Code: ErrCodeNotCompiled}
	ErrNotReady         = &LoomError{Type: ErrorTypeValidation, Code: ErrCodeNotReady}
	ErrBadArguments     = &LoomError{Type: ErrorTypeValidation, Code: ErrCodeBadArguments}
	ErrAlreadyCompiled  = &LoomError{Type: ErrorTypeValidation, Code: ErrCodeAlreadyCompiled}
	ErrUnknownInvokable = &LoomError{Type: ErrorTypeValidation, Code: ErrCodeUnknownInvokable}
	ErrTargetNotFound   = &LoomError{Type: ErrorTypeReconcile, Code: ErrCodeTargetNotFound}
	ErrFallbackLoop     = &LoomError{Type: ErrorTypeCompile, Code: ErrCodeFallbackLoop}
)

// LoomError is a structured error type with context.
type LoomError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
	// Source holds generated code attached for diagnostics.
	Source string
}

// Error implements the error interface.
func (e *LoomError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" || e.Line > 0 {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *LoomError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *LoomError) Is(target error) bool {
	var t *LoomError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *LoomError) WithContext(key string, value interface{}) *LoomError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *LoomError) WithLocation(filePath string, line, column int) *LoomError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithComponent adds component context.
func (e *LoomError) WithComponent(component string) *LoomError {
	e.Component = component

	return e
}

// WithSource attaches generated source for diagnostics.
func (e *LoomError) WithSource(source string) *LoomError {
	e.Source = source

	return e
}

// NewCompileError creates a compile-time error at a source position.
func NewCompileError(code, message string, line, column int) *LoomError {
	return &LoomError{
		Type:        ErrorTypeCompile,
		Code:        code,
		Message:     message,
		Line:        line,
		Column:      column,
		Recoverable: true,
	}
}

// NewExecutionError creates an execution-time error.
func NewExecutionError(message string, cause error) *LoomError {
	return &LoomError{
		Type:        ErrorTypeExecution,
		Code:        ErrCodeExecution,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *LoomError {
	return &LoomError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewReconcileError creates a recoverable reconciliation error.
func NewReconcileError(code, message string) *LoomError {
	return &LoomError{
		Type:        ErrorTypeReconcile,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *LoomError {
	return &LoomError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *LoomError {
	return &LoomError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *LoomError {
	return &LoomError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var le *LoomError
	if errors.As(err, &le) {
		return le.Recoverable
	}

	return false
}

// IsCompileError checks if an error happened while compiling a template.
func IsCompileError(err error) bool {
	var le *LoomError
	if errors.As(err, &le) {
		return le.Type == ErrorTypeCompile
	}

	return false
}

// SourceOf returns the generated source attached to err, if any.
func SourceOf(err error) string {
	var le *LoomError
	for errors.As(err, &le) {
		if le.Source != "" {
			return le.Source
		}
		err = le.Cause
		if err == nil {
			break
		}
	}

	return ""
}
