package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure so transports can map it to an
// outbound error payload without inspecting concrete error types.
type Kind string

const (
	KindAccessDenied  Kind = "ACCESS_DENIED"
	KindAuthRequired  Kind = "AUTHENTICATION_REQUIRED"
	KindInvalidStatus Kind = "INVALID_STATUS"
	KindDuplicate     Kind = "DUPLICATE_RESOURCE"
	KindBadRequest    Kind = "BAD_REQUEST"
	KindNotFound      Kind = "NOT_FOUND"
	KindInternal      Kind = "INTERNAL"
)

// Error is a domain error tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a tagged domain error.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an underlying error with a kind and message.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Untagged errors
// are reported as KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf extracts the domain message from an error chain. Untagged
// errors keep their message private and report a generic one.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
