// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error kinds and structured errors for the reactor, framer and handler layers.

package api

import (
	"errors"
	"fmt"
)

// Error kinds used across the library. Check with errors.Is.
var (
	// ErrIO reports a transport-level failure: broken socket, bind failure, invalid handle.
	ErrIO = errors.New("i/o error")
	// ErrMaxScanLengthExceeded reports that a delimiter scan passed the caller's limit.
	ErrMaxScanLengthExceeded = errors.New("max scan length exceeded")
	// ErrClosed reports an operation on an already closed dispatcher, pool or connection.
	ErrClosed = errors.New("resource is closed")
	// ErrHandlerFault reports an unexpected error or panic raised by an application handler.
	ErrHandlerFault = errors.New("handler fault")

	ErrBufferUnderflow   = errors.New("buffer underflow")
	ErrDelimiterNotFound = errors.New("delimiter not found")
	ErrTimeout           = errors.New("operation timeout")
	ErrNotSupported      = errors.New("operation not supported")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeIO
	ErrCodeMaxScanLengthExceeded
	ErrCodeClosed
	ErrCodeHandlerFault
	ErrCodeBufferUnderflow
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeInvalidArgument
)

var codeKinds = map[ErrorCode]error{
	ErrCodeIO:                    ErrIO,
	ErrCodeMaxScanLengthExceeded: ErrMaxScanLengthExceeded,
	ErrCodeClosed:                ErrClosed,
	ErrCodeHandlerFault:          ErrHandlerFault,
	ErrCodeBufferUnderflow:       ErrBufferUnderflow,
	ErrCodeTimeout:               ErrTimeout,
	ErrCodeNotSupported:          ErrNotSupported,
	ErrCodeInvalidArgument:       ErrInvalidArgument,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if kind, ok := codeKinds[e.Code]; ok {
		errs = append(errs, kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error of the given kind around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the ErrorCode of err, or ErrCodeOK for nil and ErrCodeIO for unknown errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, kind := range codeKinds {
		if errors.Is(err, kind) {
			return code
		}
	}
	return ErrCodeIO
}
