// Package apperrors provides the unified error taxonomy surfaced to HTTP
// clients (spec §7). Adapted from the teacher's
// infrastructure/errors/errors.go ServiceError pattern, re-keyed to this
// spec's error kinds instead of the teacher's auth/crypto/TEE kinds.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds named in spec §7.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindValidationError   Kind = "ValidationError"
	KindInvalidTransition Kind = "InvalidTransition"
	KindConflict          Kind = "Conflict"
	KindNotImplemented    Kind = "NotImplemented"
	KindAuthFailure       Kind = "AuthFailure"
	KindInternal          Kind = "Internal"
)

// ServiceError is a structured error carrying an HTTP status and a kind,
// so transport code never has to special-case individual error values.
type ServiceError struct {
	Kind       Kind
	Detail     string
	HTTPStatus int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func newErr(kind Kind, status int, detail string) *ServiceError {
	return &ServiceError{Kind: kind, Detail: detail, HTTPStatus: status}
}

func wrapErr(kind Kind, status int, detail string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Detail: detail, HTTPStatus: status, Err: err}
}

// NotFound: entity id absent or owned by a different user (cross-owner
// reads/writes are indistinguishable from absence, per spec §3 Ownership).
func NotFound(resource, id string) *ServiceError {
	return newErr(KindNotFound, http.StatusNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

// ValidationError: malformed input, duplicate bulk-patch ids, unknown
// field, violated schema constraint.
func ValidationError(detail string) *ServiceError {
	return newErr(KindValidationError, http.StatusUnprocessableEntity, detail)
}

// InvalidTransition: state-machine rejection.
func InvalidTransition(err error) *ServiceError {
	return wrapErr(KindInvalidTransition, http.StatusBadRequest, "invalid state transition", err)
}

// Conflict: frozen-field write without revert, or a duplicate unique key.
func Conflict(detail string) *ServiceError {
	return newErr(KindConflict, http.StatusConflict, detail)
}

// NotImplemented: bulk delete of BatchJobs via filter.
func NotImplemented(detail string) *ServiceError {
	return newErr(KindNotImplemented, http.StatusNotImplemented, detail)
}

// AuthFailure: missing or invalid credentials.
func AuthFailure(detail string) *ServiceError {
	return newErr(KindAuthFailure, http.StatusUnauthorized, detail)
}

// Internal wraps an unexpected error (DB failure, etc.) after any configured
// retries have been exhausted.
func Internal(detail string, err error) *ServiceError {
	return wrapErr(KindInternal, http.StatusInternalServerError, detail, err)
}

// As extracts a *ServiceError from an error chain, if present.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HTTPStatus returns the status code for an error, defaulting to 500 for
// anything not wrapped as a ServiceError.
func HTTPStatus(err error) int {
	if se, ok := As(err); ok {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Body is the small JSON body returned to clients: {detail, kind}.
type Body struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

// ToBody converts any error into the wire body, defaulting to an opaque
// internal-error kind when the error was not produced by this package.
func ToBody(err error) Body {
	if se, ok := As(err); ok {
		return Body{Detail: se.Detail, Kind: string(se.Kind)}
	}
	return Body{Detail: "internal error", Kind: string(KindInternal)}
}
