package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by who is at fault and whether it can be retried.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTransient
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error is the application error carried across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports malformed input supplied by the caller.
func Validation(message string, fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Fields:  fields,
	}
}

// NotFound reports an unknown campaign, coupon or generation request.
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %q not found", resource, id),
	}
}

// Conflict reports a business rule rejection. code is a stable machine
// readable reason such as ALREADY_REDEEMED.
func Conflict(code, message string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    code,
		Message: message,
	}
}

// Transient wraps a store failure that may succeed when retried.
func Transient(err error) *Error {
	return &Error{
		Kind:    KindTransient,
		Code:    "SERVICE_UNAVAILABLE",
		Message: "the service is temporarily unavailable",
		Err:     err,
	}
}

// Configuration reports missing or invalid startup configuration.
func Configuration(message string, err error) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Code:    "CONFIGURATION_ERROR",
		Message: message,
		Err:     err,
	}
}

// Internal wraps an unexpected failure. The message is opaque on purpose.
func Internal(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Err:     err,
	}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return Is(err, KindTransient)
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
