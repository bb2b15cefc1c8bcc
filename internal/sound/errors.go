package sound

import (
	"errors"
	"fmt"
)

// Common sound errors. Use errors.Is against these; every *Error matches
// the sentinel that corresponds to its Code.
var (
	// ErrNotFound indicates an unknown sound name.
	ErrNotFound = errors.New("sound not found")

	// ErrQueueFull indicates a play request was dropped because the
	// dispatch queue was at capacity.
	ErrQueueFull = errors.New("playback queue is full")

	// ErrClosed indicates the dispatcher or manager has been shut down.
	ErrClosed = errors.New("playback is closed")

	// ErrInvalidName indicates a sound name failed validation.
	ErrInvalidName = errors.New("invalid sound name")

	// ErrDecode indicates the source could not be decoded.
	ErrDecode = errors.New("decode failed")

	// ErrIO indicates the source could not be read.
	ErrIO = errors.New("source unreadable")

	// ErrDevice indicates the output device failed.
	ErrDevice = errors.New("audio device failure")
)

// ErrorCode identifies specific error types.
type ErrorCode string

const (
	ErrorCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrorCodeQueueFull   ErrorCode = "QUEUE_OVERFLOW"
	ErrorCodeClosed      ErrorCode = "CLOSED"
	ErrorCodeInvalidName ErrorCode = "INVALID_NAME"
	ErrorCodeDecode      ErrorCode = "DECODE"
	ErrorCodeIO          ErrorCode = "IO"
	ErrorCodeDevice      ErrorCode = "DEVICE"
	ErrorCodePlayback    ErrorCode = "PLAYBACK"
)

// Error carries a code plus the operation and sound it happened on.
type Error struct {
	Code  ErrorCode
	Op    string
	Name  string
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Name != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Name)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case ErrorCodeNotFound:
		return target == ErrNotFound
	case ErrorCodeQueueFull:
		return target == ErrQueueFull
	case ErrorCodeClosed:
		return target == ErrClosed
	case ErrorCodeInvalidName:
		return target == ErrInvalidName
	case ErrorCodeDecode:
		return target == ErrDecode
	case ErrorCodeIO:
		return target == ErrIO
	case ErrorCodeDevice, ErrorCodePlayback:
		return target == ErrDevice
	}
	return false
}

// IsFatal returns true for errors that should be surfaced to an
// administrative caller rather than logged and skipped.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeDecode, ErrorCodeIO, ErrorCodeInvalidName:
		return true
	default:
		return false
	}
}

func newError(code ErrorCode, op, name string, cause error) *Error {
	return &Error{Code: code, Op: op, Name: name, Cause: cause}
}

// DecodeError reports a malformed or unsupported source.
func DecodeError(name string, cause error) *Error {
	return newError(ErrorCodeDecode, "decode", name, cause)
}

// IOError reports an unreadable source.
func IOError(name string, cause error) *Error {
	return newError(ErrorCodeIO, "read", name, cause)
}

// DeviceError reports a device-level failure (busy, disconnected,
// unsupported format).
func DeviceError(op string, cause error) *Error {
	return newError(ErrorCodeDevice, op, "", cause)
}

// PlaybackError reports a failure of an in-flight session.
func PlaybackError(name string, cause error) *Error {
	return newError(ErrorCodePlayback, "play", name, cause)
}

// NotFoundError reports an unknown sound name.
func NotFoundError(op, name string) *Error {
	return newError(ErrorCodeNotFound, op, name, nil)
}

// QueueFullError reports a play request dropped at capacity.
func QueueFullError(name string) *Error {
	return newError(ErrorCodeQueueFull, "play", name, nil)
}

// ClosedError reports use after shutdown.
func ClosedError(op string) *Error {
	return newError(ErrorCodeClosed, op, "", nil)
}

// InvalidNameError reports a name that failed validation.
func InvalidNameError(name string, cause error) *Error {
	return newError(ErrorCodeInvalidName, "validate", name, cause)
}

// CodeOf extracts the code from err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
