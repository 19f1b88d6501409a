package database

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of graph construction failure.
type ErrorCode string

// Graph error codes
const (
	ErrCodeInvalidRecord         ErrorCode = "INVALID_RECORD"
	ErrCodeMalformedIdentity     ErrorCode = "MALFORMED_IDENTITY"
	ErrCodeSchemaBootstrapFailed ErrorCode = "SCHEMA_BOOTSTRAP_FAILED"
	ErrCodeDuplicateKey          ErrorCode = "DUPLICATE_KEY"
	ErrCodeStoreWriteFailed      ErrorCode = "STORE_WRITE_FAILED"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
)

// Sentinel errors for use with errors.Is. Any *GraphError carrying the same
// code matches its sentinel.
var (
	ErrInvalidRecord         = &GraphError{Code: ErrCodeInvalidRecord, Message: "invalid record"}
	ErrMalformedIdentity     = &GraphError{Code: ErrCodeMalformedIdentity, Message: "malformed identity key"}
	ErrSchemaBootstrapFailed = &GraphError{Code: ErrCodeSchemaBootstrapFailed, Message: "schema bootstrap failed"}
	ErrDuplicateKey          = &GraphError{Code: ErrCodeDuplicateKey, Message: "document key already exists"}
	ErrStoreWriteFailed      = &GraphError{Code: ErrCodeStoreWriteFailed, Message: "store write failed", Retryable: true}
	ErrNotFound              = &GraphError{Code: ErrCodeNotFound, Message: "document not found"}
)

// GraphError is the structured error returned by the graph layer.
// Step names the ingestion sub-step that failed, if any.
type GraphError struct {
	Code      ErrorCode
	Message   string
	Step      string
	Cause     error
	Context   map[string]any
	Retryable bool
}

// Error formats as "[CODE] message" with optional step and cause.
func (e *GraphError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Step != "" {
		msg = fmt.Sprintf("[%s] %s (step %s)", e.Code, e.Message, e.Step)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *GraphError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a GraphError with the same code.
func (e *GraphError) Is(target error) bool {
	var graphErr *GraphError
	if errors.As(target, &graphErr) {
		return e.Code == graphErr.Code
	}
	return false
}

// WithContext attaches a debugging key/value and returns the error for chaining.
func (e *GraphError) WithContext(key string, value any) *GraphError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates a GraphError with the given code and message.
func NewError(code ErrorCode, message string) *GraphError {
	return &GraphError{Code: code, Message: message, Retryable: code == ErrCodeStoreWriteFailed}
}

// WrapError creates a GraphError wrapping cause.
func WrapError(code ErrorCode, message string, cause error) *GraphError {
	return &GraphError{Code: code, Message: message, Cause: cause, Retryable: code == ErrCodeStoreWriteFailed}
}

// StepError wraps a persistence failure in ErrStoreWriteFailed tagged with the
// ingestion step that produced it.
func StepError(step string, cause error) *GraphError {
	return &GraphError{
		Code:      ErrCodeStoreWriteFailed,
		Message:   "store write failed",
		Step:      step,
		Cause:     cause,
		Retryable: true,
	}
}

// IsRetryable reports whether err carries a retryable GraphError.
func IsRetryable(err error) bool {
	var graphErr *GraphError
	if errors.As(err, &graphErr) {
		return graphErr.Retryable
	}
	return false
}
