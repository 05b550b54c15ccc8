package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a LoomError if the
// input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *LoomError {
	if err == nil {
		return nil
	}

	// Preserve location and diagnostics of an inner LoomError.
	var le *LoomError
	if errors.As(err, &le) {
		return &LoomError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       le,
			Context:     le.Context,
			Component:   le.Component,
			FilePath:    le.FilePath,
			Line:        le.Line,
			Column:      le.Column,
			Recoverable: le.Recoverable,
			Source:      le.Source,
		}
	}

	return &LoomError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeReconcile || errType == ErrorTypeExecution,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *LoomError {
	le := Wrap(err, ErrorTypeIO, code, message)
	if le != nil {
		le.Recoverable = false
	}
	return le
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *LoomError {
	le := Wrap(err, ErrorTypeConfig, code, message)
	if le != nil {
		le.Recoverable = false
	}
	return le
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *LoomError {
	le := Wrap(err, ErrorTypeInternal, code, message)
	if le != nil {
		le.Recoverable = false
	}
	return le
}

// Context extracts context information from a LoomError for structured
// logging.
func Context(err error) map[string]interface{} {
	var le *LoomError
	if !errors.As(err, &le) {
		return map[string]interface{}{
			"message": err.Error(),
			"type":    "unknown",
		}
	}

	ctx := make(map[string]interface{}, len(le.Context)+5)
	for k, v := range le.Context {
		ctx[k] = v
	}
	if le.Component != "" {
		ctx["component"] = le.Component
	}
	if le.Line > 0 {
		ctx["line"] = le.Line
		ctx["column"] = le.Column
	}
	ctx["type"] = string(le.Type)
	ctx["code"] = le.Code
	ctx["recoverable"] = le.Recoverable
	return ctx
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }
