// Package apperr defines the stable error kinds surfaced to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure independently of the component that produced it.
type Kind string

const (
	Unauthenticated    Kind = "UNAUTHENTICATED"
	InvalidArgument    Kind = "INVALID_ARGUMENT"
	PermissionDenied   Kind = "PERMISSION_DENIED"
	NotFound           Kind = "NOT_FOUND"
	FailedPrecondition Kind = "FAILED_PRECONDITION"
	Internal           Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	Unauthenticated:    http.StatusUnauthorized,
	InvalidArgument:    http.StatusBadRequest,
	PermissionDenied:   http.StatusForbidden,
	NotFound:           http.StatusNotFound,
	FailedPrecondition: http.StatusConflict,
	Internal:           http.StatusInternalServerError,
}

// HTTPStatus returns the response status used for kind.
func HTTPStatus(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a classified error carrying a caller-safe message.
type Error struct {
	kind    Kind
	message string
	details any
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return New(kind, message)
	}
	return &Error{kind: kind, message: message, cause: err}
}

func (e *Error) Kind() Kind {
	if e == nil {
		return Internal
	}
	return e.kind
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.details = details
	return &cp
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// KindOf reports the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	if typed := As(err); typed != nil {
		return typed.kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
