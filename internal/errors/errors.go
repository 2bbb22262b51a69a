// Package errors defines the error taxonomy of the service: categorized API
// errors and the connector failures they are built from.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/funnel-metrics/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed input (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents a rejected credential or failed auth exchange
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents a missing platform or sub-resource
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryProvider represents a failed vendor call
	CategoryProvider ErrorCategory = "provider"
	// CategoryStorage represents document store errors
	CategoryStorage ErrorCategory = "storage"
	// CategorySystem represents unexpected internal errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire error shape
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotConnectedError is returned when an operation needs a platform that has no credential
func NewNotConnectedError(platform types.Platform) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "PLATFORM_NOT_CONNECTED",
		Message:    fmt.Sprintf("%s is not connected", platform),
		Details: map[string]interface{}{
			"platform": platform,
		},
	}
}

// NewStorageError creates a document store error
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStorage,
		StatusCode: http.StatusInternalServerError,
		Code:       "STORAGE_ERROR",
		Message:    fmt.Sprintf("storage error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewPlatformOperationError wraps a connector failure from a single-platform
// operation (connect, sync). The vendor text is kept verbatim and prefixed with
// the platform and operation.
func NewPlatformOperationError(platform types.Platform, operation string, cause error) *CategorizedError {
	ce := &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PLATFORM_FETCH_FAILED",
		Message:    fmt.Sprintf("%s %s failed: %v", platform, operation, cause),
		Cause:      cause,
		Details: map[string]interface{}{
			"platform":  platform,
			"operation": operation,
		},
	}

	var connErr *ConnectorError
	if stderrors.As(cause, &connErr) {
		ce.Message = fmt.Sprintf("%s %s failed: %s", platform, operation, connErr.Message)
		ce.Details["step"] = connErr.Operation
		if connErr.HTTPStatus != 0 {
			ce.Details["httpStatus"] = connErr.HTTPStatus
		}
		switch connErr.Kind {
		case KindAuth:
			ce.Category = CategoryAuthorization
			ce.StatusCode = http.StatusUnauthorized
			ce.Code = "PLATFORM_AUTH_FAILED"
		case KindResourceNotFound:
			ce.Category = CategoryNotFound
			ce.StatusCode = http.StatusNotFound
			ce.Code = "PLATFORM_RESOURCE_NOT_FOUND"
		case KindInvalidCredential:
			ce.Category = CategoryValidation
			ce.StatusCode = http.StatusBadRequest
			ce.Code = "INVALID_CREDENTIAL"
		}
	}
	return ce
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
