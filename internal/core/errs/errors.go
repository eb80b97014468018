package errs

import (
	"errors"
	"time"
)

// Sentinel errors of the engine. Boundary code wraps them with context;
// callers match with errors.Is.
var (
	ErrIncompatibleType   = errors.New("incompatible crdt type")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrTransport          = errors.New("transport error")
	ErrConflictPending    = errors.New("conflict pending user decision")
	ErrProtocolViolation  = errors.New("protocol violation")

	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrBufferOverflow = errors.New("reorder buffer overflow")
	ErrOffline        = errors.New("replica offline")
	ErrClosed         = errors.New("closed")
)

// ErrorCode is a numeric error code grouped by boundary.
type ErrorCode int

const (
	CodeOK ErrorCode = 0

	// Data model errors (1000-1999)

	CodeIncompatibleType ErrorCode = 1001
	CodeNotFound         ErrorCode = 1002
	CodeAlreadyExists    ErrorCode = 1003
	CodeConflictPending  ErrorCode = 1004

	// Storage errors (2000-2999)

	CodeStorageUnavailable ErrorCode = 2001
	CodeQuotaExceeded      ErrorCode = 2002

	// Transport and protocol errors (3000-3999)

	CodeTransport         ErrorCode = 3001
	CodeProtocolViolation ErrorCode = 3002
	CodeBufferOverflow    ErrorCode = 3003
	CodeOffline           ErrorCode = 3004
	CodeClosed            ErrorCode = 3005

	CodeUnknown ErrorCode = 9999
)

var sentinelCodes = map[error]ErrorCode{
	ErrIncompatibleType:   CodeIncompatibleType,
	ErrNotFound:           CodeNotFound,
	ErrAlreadyExists:      CodeAlreadyExists,
	ErrConflictPending:    CodeConflictPending,
	ErrStorageUnavailable: CodeStorageUnavailable,
	ErrQuotaExceeded:      CodeQuotaExceeded,
	ErrTransport:          CodeTransport,
	ErrProtocolViolation:  CodeProtocolViolation,
	ErrBufferOverflow:     CodeBufferOverflow,
	ErrOffline:            CodeOffline,
	ErrClosed:             CodeClosed,
}

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeIncompatibleType:
		return "incompatible_type"
	case CodeNotFound:
		return "not_found"
	case CodeAlreadyExists:
		return "already_exists"
	case CodeConflictPending:
		return "conflict_pending"
	case CodeStorageUnavailable:
		return "storage_unavailable"
	case CodeQuotaExceeded:
		return "quota_exceeded"
	case CodeTransport:
		return "transport_error"
	case CodeProtocolViolation:
		return "protocol_violation"
	case CodeBufferOverflow:
		return "buffer_overflow"
	case CodeOffline:
		return "offline"
	case CodeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error carries a code, the sentinel cause and optional context.
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that owns e's code, so errors.Is works even when the
// cause is a lower level error.
func (e *Error) Is(target error) bool {
	code, ok := sentinelCodes[target]
	return ok && code == e.Code
}

// New builds a coded error. The cause is usually one of the sentinels above.
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// Wrap attaches the code derived from cause to a message.
func Wrap(cause error, message string) *Error {
	return New(Code(cause), message, cause)
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsRetryable reports whether the operation may succeed if repeated later.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeStorageUnavailable, CodeQuotaExceeded, CodeTransport, CodeBufferOverflow:
		return true
	default:
		return false
	}
}

// IsFatal reports errors that no retry can fix.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case CodeIncompatibleType, CodeClosed:
		return true
	default:
		return false
	}
}

// Code extracts the code of err, looking through wrapping.
func Code(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	for sentinel, code := range sentinelCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// IsRetryable classifies any error by its code.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return (&Error{Code: Code(err)}).IsRetryable()
}

// IsFatal classifies any error by its code.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return (&Error{Code: Code(err)}).IsFatal()
}
