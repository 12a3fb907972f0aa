package core

import (
	"errors"
	"fmt"
)

// ModelErrorKind classifies model-call failures.
type ModelErrorKind string

const (
	// ModelErrTimeout means the call exceeded its deadline. Transient.
	ModelErrTimeout ModelErrorKind = "timeout"

	// ModelErrUnauthorized means the credentials were rejected. Not retried.
	ModelErrUnauthorized ModelErrorKind = "unauthorized"

	// ModelErrRateLimited means the provider throttled the call. Transient.
	ModelErrRateLimited ModelErrorKind = "rate_limited"

	// ModelErrTransport means the request never produced a response
	// (connection refused, DNS failure, reset). Transient.
	ModelErrTransport ModelErrorKind = "transport"

	// ModelErrMalformedResponse means the provider answered with something
	// the adapter could not interpret. Not retried.
	ModelErrMalformedResponse ModelErrorKind = "malformed_response"
)

// ModelError is a classified failure from the ModelClient port.
type ModelError struct {
	Kind    ModelErrorKind
	Message string
	Cause   error // underlying error (may be nil)
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("model error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("model error (%s)", e.Kind)
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *ModelError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the failure kind is worth retrying.
func (e *ModelError) Transient() bool {
	switch e.Kind {
	case ModelErrTimeout, ModelErrRateLimited, ModelErrTransport:
		return true
	default:
		return false
	}
}

// NewModelError builds a classified model error.
func NewModelError(kind ModelErrorKind, message string, cause error) *ModelError {
	return &ModelError{Kind: kind, Message: message, Cause: cause}
}

// IsTransientModelError reports whether err unwraps to a transient ModelError.
// Errors that are not ModelError at all are treated as non-transient.
func IsTransientModelError(err error) bool {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Transient()
	}
	return false
}
