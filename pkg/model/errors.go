package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation    ErrorCode = "VALIDATION_ERROR"
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrConflict      ErrorCode = "CONFLICT"
	ErrInvalidReport ErrorCode = "INVALID_REPORT"
	ErrCorruptState  ErrorCode = "CORRUPT_STATE"
	ErrUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the controller and the API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of the first *APIError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInvalidReportError creates an INVALID_REPORT APIError.
func NewInvalidReportError(trialID string, resource, previous int) *APIError {
	return &APIError{
		Code:    ErrInvalidReport,
		Message: fmt.Sprintf("trial '%s' reported resource %d after %d", trialID, resource, previous),
	}
}

// NewNonFiniteMetricError creates an INVALID_REPORT APIError for a NaN or
// infinite metric.
func NewNonFiniteMetricError(trialID string, resource int, metric float64) *APIError {
	return &APIError{
		Code:    ErrInvalidReport,
		Message: fmt.Sprintf("trial '%s' reported non-finite metric %v at resource %d", trialID, metric, resource),
		Details: []FieldError{{Field: "metric", Message: "must be finite"}},
	}
}

// NewCorruptStateError creates a CORRUPT_STATE APIError.
func NewCorruptStateError(format string, args ...any) *APIError {
	return &APIError{Code: ErrCorruptState, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
