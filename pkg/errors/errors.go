package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Unauthenticated means there is no valid session; the operation was not attempted.
func Unauthenticated(message string, err error) *AppError {
	return &AppError{
		Code:    "UNAUTHENTICATED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// NetworkUnavailable is transient; safe to retry with backoff.
func NetworkUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    "NETWORK_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// PermissionDenied means the backend rejected the operation; not retryable.
func PermissionDenied(message string, err error) *AppError {
	return &AppError{
		Code:    "PERMISSION_DENIED",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

// UploadFailed means an attachment upload failed before any message referenced
// it; only the upload needs to be retried, not the whole message.
func UploadFailed(message string, err error) *AppError {
	return &AppError{
		Code:    "UPLOAD_FAILED",
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// StaleSubscription marks a callback that raced an unsubscribe. The engine
// discards these; they are never surfaced to a user.
func StaleSubscription(message string) *AppError {
	return &AppError{
		Code:    "STALE_SUBSCRIPTION",
		Message: message,
		Status:  http.StatusGone,
		Err:     nil,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether the operation that produced err may be retried
// with backoff.
func IsRetryable(err error) bool {
	return Is(err, "NETWORK_UNAVAILABLE") || Is(err, "UPLOAD_FAILED")
}

// FromBackend maps a document-store error onto the messaging taxonomy.
// Unknown codes collapse to Internal so callers always see an AppError.
func FromBackend(message string, err error) *AppError {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return NetworkUnavailable(message, err)
	case codes.PermissionDenied:
		return PermissionDenied(message, err)
	case codes.Unauthenticated:
		return Unauthenticated(message, err)
	case codes.NotFound:
		return NotFound(message, err)
	default:
		return Internal(message, err)
	}
}
