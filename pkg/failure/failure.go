// Package failure defines the outcome taxonomy shared by the query compiler,
// the persistence gateway and the outcome mapper.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into a stable category.
type Kind string

// Failure kinds
const (
	// KindMalformedQuery marks a caller-correctable query, pagination or facet error.
	KindMalformedQuery Kind = "malformed_query"
	// KindNotFound marks a lookup or write that matched no record.
	KindNotFound Kind = "not_found"
	// KindConflict marks a write rejected by a uniqueness constraint.
	KindConflict Kind = "conflict"
	// KindIntegrityViolation marks more than one record matching an identifier.
	KindIntegrityViolation Kind = "integrity_violation"
	// KindBackendUnavailable marks connectivity loss or timeouts talking to the store.
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindBackendFailure marks any other store failure.
	KindBackendFailure Kind = "backend_failure"
)

// Sentinels usable with errors.Is. Matching is by Kind only.
var (
	ErrMalformedQuery     = &Error{Kind: KindMalformedQuery}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrIntegrityViolation = &Error{Kind: KindIntegrityViolation}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrBackendFailure     = &Error{Kind: KindBackendFailure}
)

// Error is a classified failure with the original cause preserved.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	label := e.Message
	if label == "" {
		label = string(e.Kind)
	}
	if e.Op != "" {
		label = e.Op + ": " + label
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", label, e.Cause)
	}
	return label
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a failure of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a failure without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates a failure around cause.
func Wrap(kind Kind, op string, cause error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Malformed creates a KindMalformedQuery failure with a formatted message.
func Malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedQuery, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindBackendFailure for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindBackendFailure
}

// Retryable reports whether the caller may retry later. No layer in this module
// retries on its own.
func (k Kind) Retryable() bool {
	return k == KindBackendUnavailable
}
