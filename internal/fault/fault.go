// Package fault defines the failure taxonomy shared by the gateway and the
// coordinator.
//
// Every failure surfaced to a caller is a *Error carrying one Kind:
//
//   - Validation: a local precondition failed; no network call was made
//   - Unauthorized: the credential is missing or was rejected; the session is cleared
//   - Conflict: the server no longer agrees with the mirror (insufficient balance,
//     a referenced record vanished, an orphaned optimistic write)
//   - Unreachable: transport failure or timeout
//   - Server: 5xx-class or malformed response
//
// None of these are retried here. Retry policy belongs to the transport.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindConflict     Kind = "CONFLICT"
	KindUnreachable  Kind = "UNREACHABLE"
	KindServer       Kind = "SERVER_ERROR"
)

// Error is a classified failure with structured context.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Op names the operation that failed, e.g. "send-kudos" or "fetch-users".
	Op string

	// Status is the HTTP status when the failure came from a response.
	Status int

	// Message is a human-readable description.
	Message string

	// Details carries extra context (field names, ids).
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind. The message defaults to err's text.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation creates a local precondition failure.
func Validation(op, message string) *Error {
	return New(KindValidation, op, message)
}

// Conflict creates a server-disagreement failure.
func Conflict(op, message string) *Error {
	return New(KindConflict, op, message)
}

// Unauthorized creates a credential failure.
func Unauthorized(op, message string) *Error {
	return New(KindUnauthorized, op, message)
}

// Unreachable wraps a transport failure.
func Unreachable(op string, err error) *Error {
	return Wrap(KindUnreachable, op, err)
}

// Server creates an unexpected server failure.
func Server(op string, status int, message string) *Error {
	return &Error{Kind: KindServer, Op: op, Status: status, Message: message}
}

// WithDetail returns e with one more detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsValidation reports whether err is a Validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsUnauthorized reports whether err is an Unauthorized failure.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsConflict reports whether err is a Conflict failure.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsUnreachable reports whether err is an Unreachable failure.
func IsUnreachable(err error) bool { return KindOf(err) == KindUnreachable }

// IsServer reports whether err is a Server failure.
func IsServer(err error) bool { return KindOf(err) == KindServer }

// NeedsReauth reports whether the caller should send the user back to login.
func NeedsReauth(err error) bool { return IsUnauthorized(err) }
