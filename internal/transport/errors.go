package transport

import (
	"errors"
	"net/http"
)

// Kind classifies a failed call for the caller's recovery policy.
type Kind int

const (
	// KindUnknown is never produced for a failed call; it is the zero value.
	KindUnknown Kind = iota
	// KindUnauthorized means the token is missing or expired; force logout.
	KindUnauthorized
	// KindForbidden means the role is insufficient.
	KindForbidden
	// KindNotFound means the resource no longer exists server-side.
	KindNotFound
	// KindConflict means the resource changed server-side.
	KindConflict
	// KindBadRequest means the server rejected the payload (other 4xx).
	KindBadRequest
	// KindNetworkUnavailable means the server could not be reached.
	KindNetworkUnavailable
	// KindServerError means the server failed (5xx or an unreadable reply).
	KindServerError
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad request"
	case KindNetworkUnavailable:
		return "network unavailable"
	case KindServerError:
		return "server error"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrBadRequest         = &Error{Kind: KindBadRequest}
	ErrNetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	ErrServerError        = &Error{Kind: KindServerError}
)

// Error is the uniform failure shape returned by every Client call.
type Error struct {
	Kind Kind
	// Op is "METHOD /path".
	Op string
	// Status is the HTTP status, 0 when no response was received.
	Status int
	// Message is the server-provided message, if any.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown when err is not a transport
// error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// kindForStatus maps a non-2xx status to a Kind.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindBadRequest
	default:
		return KindServerError
	}
}

// classifyDoErr maps an http.Client.Do failure to an *Error. Any failure to
// obtain a response, including a deadline or a cancelled context, is a network
// condition.
func classifyDoErr(op string, err error) *Error {
	return &Error{Kind: KindNetworkUnavailable, Op: op, Err: err}
}
