package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/funnel-metrics/internal/types"
)

// ConnectorErrorKind classifies a fatal connector failure
type ConnectorErrorKind string

const (
	// KindAuth: credential rejected or the token exchange failed. Never retried.
	KindAuth ConnectorErrorKind = "auth"
	// KindResourceNotFound: the configured or auto-selected list/property/account is missing
	KindResourceNotFound ConnectorErrorKind = "resource_not_found"
	// KindPrimaryFetch: the headline data call failed or returned an unparsable body
	KindPrimaryFetch ConnectorErrorKind = "primary_fetch"
	// KindInvalidCredential: the credential is the wrong variant or malformed
	KindInvalidCredential ConnectorErrorKind = "invalid_credential"
)

// ConnectorError is returned by a connector fetch. Message holds the vendor's
// own error text whenever the vendor supplied one.
type ConnectorError struct {
	Platform   types.Platform
	Kind       ConnectorErrorKind
	Operation  string // which call failed, e.g. "token exchange", "list lookup"
	HTTPStatus int    // 0 when no response was received
	Message    string
	Cause      error
}

func (e *ConnectorError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Platform, e.Operation, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewAuthError creates an auth failure
func NewAuthError(platform types.Platform, operation string, status int, message string) *ConnectorError {
	return &ConnectorError{
		Platform:   platform,
		Kind:       KindAuth,
		Operation:  operation,
		HTTPStatus: status,
		Message:    message,
	}
}

// NewResourceNotFoundError explains which resource concept could not be resolved
func NewResourceNotFoundError(platform types.Platform, resource string, message string) *ConnectorError {
	return &ConnectorError{
		Platform:  platform,
		Kind:      KindResourceNotFound,
		Operation: resource + " lookup",
		Message:   message,
	}
}

// NewInvalidCredentialError is returned when a connector receives the wrong credential shape
func NewInvalidCredentialError(platform types.Platform, message string) *ConnectorError {
	return &ConnectorError{
		Platform:  platform,
		Kind:      KindInvalidCredential,
		Operation: "credential check",
		Message:   message,
	}
}

// AsPrimary re-tags a call failure as fatal to the fetch. Auth and
// resource-not-found failures keep their kind.
func AsPrimary(err error) error {
	var connErr *ConnectorError
	if !stderrors.As(err, &connErr) {
		return err
	}
	if connErr.Kind == KindAuth || connErr.Kind == KindResourceNotFound {
		return connErr
	}
	cp := *connErr
	cp.Kind = KindPrimaryFetch
	return &cp
}

// IsKind reports whether err is a ConnectorError of the given kind
func IsKind(err error, kind ConnectorErrorKind) bool {
	var connErr *ConnectorError
	return stderrors.As(err, &connErr) && connErr.Kind == kind
}
