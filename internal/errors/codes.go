package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for store and sampling operations
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument   ErrorCode = 1000
	ErrCodeNotFound          ErrorCode = 1001
	ErrCodeKeySpaceExhausted ErrorCode = 1002

	// Store errors
	ErrCodeInternal      ErrorCode = 2000
	ErrCodeUnavailable   ErrorCode = 2001
	ErrCodeCorruptedData ErrorCode = 2002
)

// String returns the code name used in logs and metric labels
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeKeySpaceExhausted:
		return "KEY_SPACE_EXHAUSTED"
	case ErrCodeUnavailable:
		return "UNAVAILABLE"
	case ErrCodeCorruptedData:
		return "CORRUPTED_DATA"
	default:
		return "INTERNAL"
	}
}

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInvalidArgument, message, cause)
}

func InvalidArgumentf(format string, args ...interface{}) *StoreError {
	return NewStoreError(ErrCodeInvalidArgument, fmt.Sprintf(format, args...), nil)
}

func RowNotFound(table, key string) *StoreError {
	return NewStoreError(ErrCodeNotFound, fmt.Sprintf("row not found: %s/%s", table, key), nil).
		WithDetail("table", table).
		WithDetail("key", key)
}

func KeySpaceExhausted(index, maxSuffix int) *StoreError {
	return NewStoreError(ErrCodeKeySpaceExhausted,
		fmt.Sprintf("index %d outside key suffix range [0, %d]", index, maxSuffix), nil).
		WithDetail("index", index).
		WithDetail("max_suffix", maxSuffix)
}

func CorruptedData(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeCorruptedData, message, cause)
}

func InternalError(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeUnavailable, message, cause)
}

// FromGRPC classifies an error returned by a gRPC-backed store client.
func FromGRPC(message string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if stderrors.As(err, &se) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return NewStoreError(ErrCodeNotFound, message, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return InvalidArgument(message, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return Unavailable(message, err)
	case codes.DataLoss:
		return CorruptedData(message, err)
	default:
		return InternalError(message, err)
	}
}

// IsStoreError checks if an error is a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *StoreError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether err is a missing-row condition.
func IsNotFound(err error) bool {
	return err != nil && GetCode(err) == ErrCodeNotFound
}

// IsInvalidArgument reports whether err is a caller/configuration error.
func IsInvalidArgument(err error) bool {
	if err == nil {
		return false
	}
	code := GetCode(err)
	return code == ErrCodeInvalidArgument || code == ErrCodeKeySpaceExhausted
}
