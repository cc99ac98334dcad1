package apperrors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an application error
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindValidation      Kind = "VALIDATION_ERROR"
	KindEncryption      Kind = "ENCRYPTION_ERROR"
	KindExternalService Kind = "EXTERNAL_SERVICE_ERROR"
	KindRateLimit       Kind = "RATE_LIMIT_EXCEEDED"
	KindKillSwitch      Kind = "KILL_SWITCH_ACTIVE"
)

// Error is an application error carrying an HTTP status and a stable code
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Field      string
}

func (e *Error) Error() string {
	return e.Message
}

// NotFound reports a missing storefront, platform, credential or event
func NotFound(resource, identifier string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("%s with identifier '%s' not found", resource, identifier),
		StatusCode: http.StatusNotFound,
	}
}

// Conflict reports a duplicate unique key
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message, StatusCode: http.StatusConflict}
}

// Validation reports a malformed batch or configuration
func Validation(message, field string) *Error {
	return &Error{
		Kind:       KindValidation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Field:      field,
	}
}

// Encryption reports a vault failure
func Encryption(message string) *Error {
	return &Error{Kind: KindEncryption, Message: message, StatusCode: http.StatusInternalServerError}
}

// ExternalService reports a failed call to a platform or relay
func ExternalService(service, message string) *Error {
	return &Error{
		Kind:       KindExternalService,
		Message:    fmt.Sprintf("%s: %s", service, message),
		StatusCode: http.StatusBadGateway,
	}
}

// RateLimit reports a throttled request
func RateLimit(message string) *Error {
	return &Error{Kind: KindRateLimit, Message: message, StatusCode: http.StatusTooManyRequests}
}

// KillSwitch reports an inactive resource blocking an operation
func KillSwitch(resource, identifier string) *Error {
	return &Error{
		Kind:       KindKillSwitch,
		Message:    fmt.Sprintf("%s '%s' is disabled (kill switch active)", resource, identifier),
		StatusCode: http.StatusServiceUnavailable,
	}
}

// As extracts an *Error from a wrapped chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err wraps an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
