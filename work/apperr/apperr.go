// Package apperr defines the error taxonomy used across the proxy. Every
// fallible boundary (origin fetch, playlist parse, cache miss, scraper
// call) converts its failure into one of these kinds so handlers can map
// errors to HTTP statuses without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by who is at fault.
type Kind int

const (
	KindClient   Kind = iota // the caller sent a bad request
	KindNotFound             // the referenced id/token does not exist or expired
	KindUpstream             // an origin server or playlist failed us
	KindInternal             // an unexpected failure on our side
)

// Error is a classified error with an optional wrapped cause. Details
// carries per-step context for aggregate failures, one line per attempted
// source.
type Error struct {
	Kind    Kind
	Msg     string
	Err     error
	Details []string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client builds a 400-class error for invalid request input.
func Client(format string, v ...any) *Error {
	return &Error{Kind: KindClient, Msg: fmt.Sprintf(format, v...)}
}

// NotFound builds a 404-class error for unknown ids and expired tokens.
func NotFound(format string, v ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, v...)}
}

// Upstream builds a 502-class error carrying the underlying cause for
// diagnostics. cause may be nil when the failure is a protocol-level one
// (empty playlist, missing master URL) rather than a transport error.
func Upstream(cause error, format string, v ...any) *Error {
	return &Error{Kind: KindUpstream, Msg: fmt.Sprintf(format, v...), Err: cause}
}

// UpstreamTrail builds a 502-class error whose details list every failed
// step of an aggregate operation, such as a multi-source fallback.
func UpstreamTrail(details []string, format string, v ...any) *Error {
	return &Error{Kind: KindUpstream, Msg: fmt.Sprintf(format, v...), Details: details}
}

// DetailsOf returns the detail lines of err, or nil for plain errors.
func DetailsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Internal builds a 500-class error for failures not attributable to the
// client or an origin server.
func Internal(cause error, format string, v ...any) *Error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, v...), Err: cause}
}

// KindOf extracts the kind of err, defaulting to KindInternal for errors
// that never passed through this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the authoritative HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindClient:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
