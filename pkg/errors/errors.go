package errors

import (
	"errors"
	"fmt"
	"net/http"

	"zonecast/internal/core/domain"
)

// ErrorCode represents application error codes carried in signaling
// acknowledgements and HTTP responses.
type ErrorCode string

const (
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeNotJoined         ErrorCode = "NOT_JOINED"
	ErrCodeRoomNotFound      ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeTransportNotFound ErrorCode = "TRANSPORT_NOT_FOUND"
	ErrCodeProducerNotFound  ErrorCode = "PRODUCER_NOT_FOUND"
	ErrCodeConsumerNotFound  ErrorCode = "CONSUMER_NOT_FOUND"
	ErrCodeCannotConsume     ErrorCode = "CANNOT_CONSUME"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeWorkerFatal       ErrorCode = "WORKER_FATAL"
)

// AppError represents an application error with code and context.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error.
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with an application error.
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// FromDomain maps a domain sentinel error to its signaling error code.
func FromDomain(err error) *AppError {
	switch {
	case errors.Is(err, domain.ErrNotJoined):
		return WrapError(err, ErrCodeNotJoined, "no peer session for this room", http.StatusConflict)
	case errors.Is(err, domain.ErrRoomNotFound):
		return WrapError(err, ErrCodeRoomNotFound, "room not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrTransportNotFound):
		return WrapError(err, ErrCodeTransportNotFound, "transport not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrProducerNotFound):
		return WrapError(err, ErrCodeProducerNotFound, "producer not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrConsumerNotFound):
		return WrapError(err, ErrCodeConsumerNotFound, "consumer not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrCannotConsume):
		return WrapError(err, ErrCodeCannotConsume, "incompatible receiver capabilities", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrWorkerFatal):
		return WrapError(err, ErrCodeWorkerFatal, "media worker unusable", http.StatusServiceUnavailable)
	default:
		return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}

// IsAppError checks if the error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts an AppError from the error chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
