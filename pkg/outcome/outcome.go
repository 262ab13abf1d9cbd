// Package outcome maps gateway results and failures onto the response kinds
// a transport layer renders.
package outcome

import (
	"context"
	"errors"
	"net/http"

	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/logger"
)

// Kind is the response category of a Result.
type Kind string

// Result kinds
const (
	OK                 Kind = "ok"
	Created            Kind = "created"
	NoContent          Kind = "no_content"
	ValidationError    Kind = "validation_error"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	IntegrityViolation Kind = "integrity_violation"
	InternalError      Kind = "internal_error"
)

const internalMessage = "an unexpected error occurred"

// Result is the transport-neutral response of one service call.
type Result struct {
	Kind      Kind           `json:"kind"`
	Data      any            `json:"data,omitempty"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`

	// Cause is the underlying error, kept for logging only.
	Cause error `json:"-"`
}

// Error returns the result's failure, or nil when it succeeded.
func (r Result) Error() error {
	if r.Success() {
		return nil
	}
	if r.Cause != nil {
		return r.Cause
	}
	return errors.New(r.Message)
}

// Success reports whether r carries one of the success kinds.
func (r Result) Success() bool {
	switch r.Kind {
	case OK, Created, NoContent:
		return true
	}
	return false
}

// HTTPStatus returns the status code a transport would send for r.
func (r Result) HTTPStatus() int {
	switch r.Kind {
	case OK:
		return http.StatusOK
	case Created:
		return http.StatusCreated
	case NoContent:
		return http.StatusNoContent
	case ValidationError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Map turns a read result into OK with payload, or err into its failure kind.
func Map(ctx context.Context, payload any, err error) Result {
	return FromWrite(ctx, OK, payload, err)
}

// FromWrite returns success with payload when err is nil and otherwise
// classifies err. success is the kind to report on success, such as Created
// for inserts and NoContent for updates and deletes.
func FromWrite(ctx context.Context, success Kind, payload any, err error) Result {
	requestID := logger.RequestIDFromContext(ctx)
	if err == nil {
		if success == NoContent {
			payload = nil
		}
		return Result{Kind: success, Data: payload, RequestID: requestID}
	}

	var fe *failure.Error
	if !errors.As(err, &fe) {
		return Result{
			Kind:      InternalError,
			Message:   internalMessage,
			RequestID: requestID,
			Cause:     err,
		}
	}

	res := Result{
		Code:      string(fe.Kind),
		Message:   fe.Message,
		RequestID: requestID,
		Cause:     err,
	}
	switch fe.Kind {
	case failure.KindMalformedQuery:
		res.Kind = ValidationError
		if fe.Cause != nil {
			res.Details = map[string]any{"reason": fe.Cause.Error()}
		}
	case failure.KindNotFound:
		res.Kind = NotFound
	case failure.KindConflict:
		res.Kind = Conflict
	case failure.KindIntegrityViolation:
		res.Kind = IntegrityViolation
		res.Message = "more than one record shares the requested identifier"
	default:
		res.Kind = InternalError
		res.Message = internalMessage
	}
	if res.Message == "" {
		res.Message = string(fe.Kind)
	}
	return res
}

// Validation builds a ValidationError result for a caller-correctable request.
func Validation(ctx context.Context, message string, details map[string]any) Result {
	return Result{
		Kind:      ValidationError,
		Code:      string(failure.KindMalformedQuery),
		Message:   message,
		RequestID: logger.RequestIDFromContext(ctx),
		Details:   details,
		Cause:     failure.New(failure.KindMalformedQuery, "", message),
	}
}
