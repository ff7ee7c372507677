package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for handling policy decisions.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindTransient         Kind = "transient"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("code=%d, kind=%s, message=%s", e.Code, e.Kind, e.Message)
}

// Common errors
var (
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Kind: KindNotFound, Message: "Resource not found"}
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Kind: KindConfiguration, Message: "Bad request"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Kind: KindInternal, Message: "Internal server error"}
)

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    KindInternal,
		Message: message,
	}
}

// NewNotFound builds a not-found error for a named resource.
func NewNotFound(resource, id string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInvalidTransition builds an error for a rejected state transition.
func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("invalid state transition from %s to %s", from, to),
	}
}

// NewConfiguration builds an error for a bad rule or channel definition.
func NewConfiguration(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Kind:    KindConfiguration,
		Message: message,
	}
}

// NewTransient builds an error for a retryable I/O failure.
func NewTransient(message string, cause error) *AppError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &AppError{
		Code:    http.StatusServiceUnavailable,
		Kind:    KindTransient,
		Message: message,
		Details: details,
	}
}

// WithDetails adds details to an error
func WithDetails(err *AppError, details string) *AppError {
	return &AppError{
		Code:    err.Code,
		Kind:    err.Kind,
		Message: err.Message,
		Details: details,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsInvalidTransition reports whether err is a rejected state transition.
func IsInvalidTransition(err error) bool { return IsKind(err, KindInvalidTransition) }

// IsConfiguration reports whether err is a configuration problem.
func IsConfiguration(err error) bool { return IsKind(err, KindConfiguration) }

// IsTransient reports whether err is a retryable I/O failure.
func IsTransient(err error) bool { return IsKind(err, KindTransient) }

// GetStatusCode returns the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
