package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the stable, externally visible error taxonomy. Leaf errors
// from stores and providers are never surfaced verbatim; the coordinators
// classify them into one of these kinds.
type ErrorCode string

const (
	ErrCodeAuthentication    ErrorCode = "authentication"
	ErrCodeAuthorization     ErrorCode = "authorization"
	ErrCodeValidation        ErrorCode = "validation"
	ErrCodeNotFound          ErrorCode = "not_found"
	ErrCodeConflict          ErrorCode = "conflict"
	ErrCodeDependencyFailure ErrorCode = "dependency_failure"
	ErrCodeInternal          ErrorCode = "internal"
)

// AppError is the typed error returned at coordinator boundaries.
type AppError struct {
	Code    ErrorCode `json:"error"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind to its response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization:
		return http.StatusForbidden
	case ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeDependencyFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, cause: cause}
}

func ValidationError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, cause: cause}
}

func DependencyError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeDependencyFailure, Message: message, cause: cause}
}

// AsAppError extracts an AppError from err, wrapping unknown errors as
// internal so unexpected leaf errors never reach a response body raw.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: ErrCodeInternal, Message: "internal error", cause: err}
}

// Sentinel errors used inside the ingestion and retrieval paths.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrParseFailure      = errors.New("document parse failure")
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrAuditSaturated    = errors.New("audit buffer saturated")
)
