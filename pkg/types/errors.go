package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of gomql error.
type ErrorCode string

// Error codes. Cxxxx codes are raised while compiling a specification,
// Rxxxx codes while evaluating a compiled function against a document.
const (
	// C01xx: specification errors
	ErrUnknownOperator   ErrorCode = "C0101"
	ErrBadArgument       ErrorCode = "C0102"
	ErrBadPath           ErrorCode = "C0103"
	ErrConflictingPaths  ErrorCode = "C0104"
	ErrUnsupported       ErrorCode = "C0105"
	ErrUndefinedVariable ErrorCode = "C0106"

	// R02xx: document errors
	ErrTypeMismatch ErrorCode = "R0201"
)

// Error is a structured gomql error.
type Error struct {
	Code    ErrorCode
	Message string
	// Op is the operator or stage the error was raised for, when known.
	Op string
	// Path is the field path involved, when known.
	Path string
	Err  error
}

// NewError creates a new error with the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// CompileError creates a specification error for operator op.
func CompileError(code ErrorCode, op string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
	}
}

// TypeMismatch creates a document error for operator op.
func TypeMismatch(op string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    ErrTypeMismatch,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path %q)", msg, e.Path)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithPath records the field path involved.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithCause wraps another error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// IsCompileError reports whether err (or any error it wraps) was raised while
// compiling a specification.
func IsCompileError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code != ErrTypeMismatch
}

// IsTypeMismatch reports whether err (or any error it wraps) was raised because
// a document value could not be used as an operator required.
func IsTypeMismatch(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrTypeMismatch
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
