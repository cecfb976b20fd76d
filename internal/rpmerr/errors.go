package rpmerr

import (
	"errors"
	"fmt"
)

// Code identifies an error class so callers and tests can match on it
// without comparing message text.
type Code string

const (
	ErrUnknown         Code = "UNKNOWN"
	ErrParse           Code = "PARSE"
	ErrRecursionLimit  Code = "RECURSION_LIMIT"
	ErrBufferExhausted Code = "BUFFER_EXHAUSTED"
	ErrDependency      Code = "DEPENDENCY"
	ErrScript          Code = "SCRIPT"
	ErrFilesystem      Code = "FILESYSTEM"
	ErrDatabase        Code = "DATABASE"
	ErrOrderCycle      Code = "ORDER_CYCLE"
	ErrInvalidState    Code = "INVALID_STATE"
	ErrNotFound        Code = "NOT_FOUND"
	ErrSignature       Code = "SIGNATURE"
	ErrSpec            Code = "SPEC"
	ErrRemote          Code = "REMOTE"
)

// Error is a structured error with a stable code and optional details.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetail attaches a key/value pair and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any)}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Details: make(map[string]any)}
}

// Wrap returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Details: make(map[string]any), Wrapped: err}
}

func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Details: make(map[string]any), Wrapped: err}
}

// IsCode reports whether any error in the chain has the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Code == code {
				return true
			}
			err = e.Wrapped
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the code of the outermost structured error, or ErrUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// Detail looks up a detail value on the outermost structured error.
func Detail(err error, key string) (any, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}
