// Package errors provides unified error handling with structured error codes
// shared across the capture pipeline. Session-level failures carry a code so
// callers can branch on the failure class without string matching.
package errors

import "fmt"

// Code classifies a capture pipeline failure.
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument

	// CodePermissionDenied means stream acquisition was refused by the host.
	// Never retried automatically.
	CodePermissionDenied

	// CodeWindowNotFound means the host bridge could not locate the capture
	// target. Rendering may continue with identity-scale fallback; input
	// projection is disabled.
	CodeWindowNotFound

	// CodeFrameTimeout means the stream never produced a decodable frame
	// within the ready deadline.
	CodeFrameTimeout

	// CodeHashUnavailable means a frame source could not be sampled for
	// perceptual hashing.
	CodeHashUnavailable

	// CodeBridgeUnavailable means the host bridge transport is down.
	CodeBridgeUnavailable

	// CodeStreamClosed means an operation raced with stream teardown.
	CodeStreamClosed

	// CodeSessionClosed means an operation was attempted on a closed session.
	CodeSessionClosed
)

var codeNames = map[Code]string{
	CodeUnknown:           "UNKNOWN",
	CodeInternal:          "INTERNAL",
	CodeInvalidArgument:   "INVALID_ARGUMENT",
	CodePermissionDenied:  "PERMISSION_DENIED",
	CodeWindowNotFound:    "WINDOW_NOT_FOUND",
	CodeFrameTimeout:      "FRAME_TIMEOUT",
	CodeHashUnavailable:   "HASH_UNAVAILABLE",
	CodeBridgeUnavailable: "BRIDGE_UNAVAILABLE",
	CodeStreamClosed:      "STREAM_CLOSED",
	CodeSessionClosed:     "SESSION_CLOSED",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the error code, walking the cause chain.
func CodeOf(err error) Code {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// IsCode checks if an error carries a specific error code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially retryable.
// Permission denials are final: retrying would re-prompt the user.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeFrameTimeout, CodeBridgeUnavailable:
		return true
	default:
		return false
	}
}
