// Package apierr formalizes the error kinds the HTTP surface can return and
// maps each one to a status code and a stable JSON error code. It replaces
// ad-hoc status-code literals scattered across handlers with a single enum
// any middleware or handler can reason about.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind classifies an error the way the design's error-handling model does:
// bad input, unauthorized, not found, conflict, precondition failed, and
// internal. Transient external failures and protocol corruption are
// deliberately not part of this enum — transient failures are retried by
// the caller without surfacing an HTTP error, and protocol corruption is
// recorded as a transcription error count rather than rejected at the
// HTTP layer.
type Kind string

const (
	KindBadInput           Kind = "bad_input"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"
	KindInternal           Kind = "internal"
)

// Error is a Kind-classified error a handler can return up the call stack
// and have the HTTP layer render without re-deriving the status code.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As is a thin convenience wrapper over errors.As for the common case of
// pulling a *Error out of an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

var statusByKind = map[Kind]int{
	KindBadInput:           http.StatusBadRequest,
	KindUnauthorized:       http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindPreconditionFailed: http.StatusPreconditionFailed,
	KindInternal:           http.StatusInternalServerError,
}

// Status returns the HTTP status code for a Kind, defaulting to 500 for an
// unrecognized or zero-value Kind.
func Status(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// body is the wire shape of every error response this package writes.
type body struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// WriteError writes a classified JSON error response.
func WriteError(w http.ResponseWriter, kind Kind, msg string) {
	WriteErrorWithCode(w, Status(kind), kind, msg)
}

// WriteErrorWithCode writes a JSON error response at an explicit status,
// for the rare case a caller needs a status Kind doesn't imply (e.g. 429
// rate limiting, which is a transport concern rather than a domain Kind).
func WriteErrorWithCode(w http.ResponseWriter, status int, kind Kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body{Code: string(kind), Error: msg})
}

// WriteErr inspects err for a *Error and renders it at its classified
// status; any other error is rendered as an opaque internal error so
// handlers never need to type-switch themselves.
func WriteErr(w http.ResponseWriter, err error) {
	if e, ok := As(err); ok {
		WriteError(w, e.Kind, e.Message)
		return
	}
	WriteError(w, KindInternal, "internal server error")
}

// Common sentinel-style constructors for the error kinds handlers reach
// for most often.
func Forbidden(msg string) *Error          { return New(KindUnauthorized, msg) }
func NotFound(msg string) *Error           { return New(KindNotFound, msg) }
func Conflict(msg string) *Error           { return New(KindConflict, msg) }
func PreconditionFailed(msg string) *Error { return New(KindPreconditionFailed, msg) }
func BadInput(msg string) *Error           { return New(KindBadInput, msg) }

// ErrForbidden is the Kind RequireAuth/WriteAuth pass when no token is
// configured or the provided token doesn't match.
//
// ErrRateLimited marks a 429 response. It carries no dedicated status in
// statusByKind since rate limiting is transport policy, not a domain error
// kind; callers pass http.StatusTooManyRequests explicitly via
// WriteErrorWithCode.
const (
	ErrForbidden        = KindUnauthorized
	ErrRateLimited Kind = "rate_limited"
	ErrInvalidParameter = KindBadInput
	ErrInvalidBody      = KindBadInput
	ErrInvalidTimeRange = KindBadInput
)
