// Package fseekerr provides structured error handling for fseek.
//
// Features:
// - Standardized error codes covering the search failure taxonomy
// - Human-readable messages
// - Error chaining
// - Exit-code mapping for the CLI
//
// Errors compare by code, so the sentinels below work with errors.Is no matter
// which message or details a call site attached.
package fseekerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

//nolint:gochecknoglobals
var (
	// Is forwards to errors.Is for error comparison.
	Is = errors.Is

	// As forwards to errors.As for error type assertion.
	As = errors.As

	// Unwrap forwards to errors.Unwrap for error chain inspection.
	Unwrap = errors.Unwrap
)

// Details provides additional context for errors in key-value format.
type Details map[string]any

// ErrorOption defines optional parameters for error creation
type ErrorOption func(*Error)

// Code is a machine-readable error identifier.
type Code string

// WithError sets the underlying error
func WithError(err error) ErrorOption {
	return func(e *Error) {
		e.Err = err
	}
}

// WithDetails adds additional context details to the error
func WithDetails(details Details) ErrorOption {
	return func(e *Error) {
		if e.Details == nil {
			e.Details = make(Details)
		}

		for k, v := range details {
			e.Details[k] = v
		}
	}
}

// Error is the structured error used across fseek.
//
// Fields:
// - Code: Machine-readable error identifier (e.g., "READ_FAULT")
// - Message: Human-readable error description
// - Err: Underlying error that caused this one (optional)
// - Details: Additional context information (optional)
type Error struct {
	Code    Code    // Machine-readable error code
	Message string  // Human-readable message
	Err     error   // Underlying error (optional)
	Details Details // Additional context details
}

// New creates a new structured error instance
//
// Example:
//
//	return fseekerr.New(
//	    fseekerr.CodeReadFault,
//	    "chunk is not a whole number of records",
//	    fseekerr.WithDetails(fseekerr.Details{"bytes": n}),
//	)
func New(code Code, message string, opts ...ErrorOption) error {
	err := &Error{
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		opt(err)
	}

	return err
}

// Error formats as "CODE: message [k=v, ...] (nested error)".
// Details are printed in key order so messages are stable.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Code))
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		sb.WriteString(" [")

		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}

			fmt.Fprintf(&sb, "%s=%v", k, e.Details[k])
		}

		sb.WriteString("]")
	}

	if e.Err != nil {
		sb.WriteString(" (")
		sb.WriteString(e.Err.Error())
		sb.WriteString(")")
	}

	return sb.String()
}

// Unwrap returns the underlying error for error inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}

	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternalError when err carries none.
func CodeOf(err error) Code {
	var fsErr *Error
	if As(err, &fsErr) {
		return fsErr.Code
	}

	return CodeInternalError
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch CodeOf(err) {
	case CodeInvalidInput, CodeConfigError:
		return 2
	case CodeSourceError:
		return 3
	default:
		return 1
	}
}

// Error codes
const (
	// CodeInvalidInput indicates invalid user input/parameters
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeConfigError indicates configuration related errors
	CodeConfigError Code = "CONFIG_ERROR"

	// CodeSourceError indicates the record source could not be opened
	CodeSourceError Code = "SOURCE_ERROR"

	// CodeResourceError indicates a worker could not allocate its scan buffer
	CodeResourceError Code = "RESOURCE_ERROR"

	// CodeReadFault indicates a chunk whose size is not a multiple of the record size
	CodeReadFault Code = "READ_FAULT"

	// CodeReadError indicates the underlying source failed a read
	CodeReadError Code = "READ_ERROR"

	// CodeCanceled indicates a worker stopped on a cancellation request
	CodeCanceled Code = "CANCELED"

	// CodeWorkerPanic indicates a worker was stopped by a fault inside it
	CodeWorkerPanic Code = "WORKER_PANIC"

	// CodeSignalError indicates an interruption could not be delivered
	CodeSignalError Code = "SIGNAL_ERROR"

	// CodeInternalError indicates an unexpected system error
	CodeInternalError Code = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. Comparison is by code only.
//
//nolint:gochecknoglobals
var (
	ErrResource    = &Error{Code: CodeResourceError}
	ErrReadFault   = &Error{Code: CodeReadFault}
	ErrReadError   = &Error{Code: CodeReadError}
	ErrCanceled    = &Error{Code: CodeCanceled}
	ErrWorkerPanic = &Error{Code: CodeWorkerPanic}
)

// IsReadFailure reports whether err belongs to the read-failure class
// (READ_FAULT or READ_ERROR).
func IsReadFailure(err error) bool {
	return Is(err, ErrReadFault) || Is(err, ErrReadError)
}
