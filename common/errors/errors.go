package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Generic errors
var (
	// ErrAlreadyExists is returned when a unique key is already taken
	ErrAlreadyExists = errors.New("resource already exists")

	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest is returned when the request is malformed
	ErrBadRequest = errors.New("bad request")

	// ErrValidation is returned when one or more fields fail validation
	ErrValidation = errors.New("validation error")

	ErrRateLimit = errors.New("rate limit exceeded")
)

// Project and phase errors
var (
	// ErrProjectNotFound is returned when a project is not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidKitType is returned for a kit type other than LAUNCH or GROWTH
	ErrInvalidKitType = errors.New("invalid kit type")

	// ErrInvalidPhase is returned when a phase id is not part of the kit's template
	ErrInvalidPhase = errors.New("invalid phase_id")

	// ErrInvalidChecklistLabel is returned when a label is not part of the phase's checklist
	ErrInvalidChecklistLabel = errors.New("invalid checklist_label")

	// ErrInvalidStatus is returned for a phase status outside the four legal values
	ErrInvalidStatus = errors.New("invalid status")
)

// Onboarding errors
var (
	// ErrInvalidStep is returned for a step number outside 1..3
	ErrInvalidStep = errors.New("invalid onboarding step")

	// ErrStepLocked is returned when saving a step whose predecessor is not done
	ErrStepLocked = errors.New("previous onboarding step is not complete")

	// ErrOnboardingIncomplete is returned when completing onboarding with unfinished steps
	ErrOnboardingIncomplete = errors.New("onboarding steps are not complete")
)

// Upload errors
var (
	// ErrFileTooLarge is returned when an upload exceeds the configured size limit
	ErrFileTooLarge = errors.New("file too large")

	// ErrStorageNotConfigured is returned when no object store is configured
	ErrStorageNotConfigured = errors.New("file storage not configured")
)

// Auth-specific errors
var (
	// ErrTokenExpired is returned when a JWT token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when a JWT token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrAdminRequired is returned when a client token hits an admin route
	ErrAdminRequired = errors.New("admin access required")
)

// AppError represents an application error with additional context
type AppError struct {
	Err        error
	Message    string
	StatusCode int
	Details    map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(err error, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    fmt.Sprintf("%s: %v", message, err),
		StatusCode: HTTPStatusCode(err),
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// ValidationError creates a validation error with field details
func ValidationError(message string, fields map[string]string) *AppError {
	details := make(map[string]interface{})
	for k, v := range fields {
		details[k] = v
	}
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// statusBySentinel is consulted in order; the first match wins
var statusBySentinel = []struct {
	err    error
	status int
}{
	{ErrProjectNotFound, http.StatusNotFound},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrTokenExpired, http.StatusUnauthorized},
	{ErrInvalidToken, http.StatusUnauthorized},
	{ErrAdminRequired, http.StatusForbidden},
	{ErrBadRequest, http.StatusBadRequest},
	{ErrValidation, http.StatusBadRequest},
	{ErrInvalidKitType, http.StatusBadRequest},
	{ErrInvalidPhase, http.StatusBadRequest},
	{ErrInvalidChecklistLabel, http.StatusBadRequest},
	{ErrInvalidStatus, http.StatusBadRequest},
	{ErrInvalidStep, http.StatusBadRequest},
	{ErrFileTooLarge, http.StatusBadRequest},
	{ErrAlreadyExists, http.StatusConflict},
	{ErrStepLocked, http.StatusConflict},
	{ErrOnboardingIncomplete, http.StatusConflict},
	{ErrRateLimit, http.StatusTooManyRequests},
	{ErrStorageNotConfigured, http.StatusServiceUnavailable},
}

// HTTPStatusCode returns the status an error should be reported with.
// An AppError carries its own; sentinels map through statusBySentinel;
// anything else is a 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	for _, m := range statusBySentinel {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
