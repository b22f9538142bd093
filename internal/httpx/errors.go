package httpx

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"metalearn/api/internal/auth"
)

// DomainError is an error that maps directly to an HTTP response.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a DomainError. The helpers below cover the common statuses.
func NewError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func BadRequest(message string) *DomainError {
	return NewError(http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

func Unauthorized(message string) *DomainError {
	return NewError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func Forbidden(message string) *DomainError {
	return NewError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func NotFound(message string) *DomainError {
	return NewError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func Conflict(message string) *DomainError {
	return NewError(http.StatusConflict, "CONFLICT", message, nil)
}

func Unavailable(message string) *DomainError {
	return NewError(http.StatusServiceUnavailable, "UNAVAILABLE", message, nil)
}

// MapError classifies err into a response status, code, message and
// optional details.
func MapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired access token", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Internal server error", nil
}
