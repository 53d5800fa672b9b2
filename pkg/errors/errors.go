package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusInvalidOrExpiredToken is the non-standard status code used for
// verification and reset tokens that are unknown, consumed, or past their
// expiry. Existing clients key off this value, so it must not change.
const StatusInvalidOrExpiredToken = 489

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code, so a WithInternal copy still satisfies
// errors.Is against its sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}

	appErr, ok := target.(*AppError)
	if !ok || appErr == nil {
		return false
	}
	return e.Code == appErr.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid email or password",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "An account with this email already exists",
		StatusCode: http.StatusBadRequest,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidOrExpiredToken covers unknown, already-consumed, and expired
	// verification or reset tokens without distinguishing between them.
	ErrInvalidOrExpiredToken = &AppError{
		Code:       "INVALID_OR_EXPIRED_TOKEN",
		Message:    "Token is invalid or expired",
		StatusCode: StatusInvalidOrExpiredToken,
	}

	ErrPasswordMismatch = &AppError{
		Code:       "PASSWORD_MISMATCH",
		Message:    "Passwords do not match",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
