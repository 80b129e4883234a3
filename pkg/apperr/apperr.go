// Package apperr classifies engine errors into a small, transport-neutral taxonomy.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the error class surfaced to callers.
type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindPermissionDenied   Kind = "permission_denied"
	KindInvalidArgument    Kind = "invalid_argument"
	KindFailedPrecondition Kind = "failed_precondition"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
}

// New returns a sentinel error of the given kind.
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code, Message: code}
}

func (e *Error) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Is matches on kind and code so decorated copies still satisfy errors.Is
// against their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithMessage returns a copy carrying a human-readable message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// WithDetails returns a copy carrying structured details for the caller.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf reports the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

// As extracts the classified error, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// Internal wraps an unexpected failure.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

var (
	ErrUnauthenticated  = New(KindUnauthenticated, "unauthenticated")
	ErrPermissionDenied = New(KindPermissionDenied, "permission_denied")
	ErrInternal         = New(KindInternal, "internal_error")
)
