package gwerror

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Kind identifies which stage of request processing rejected the request.
type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindRateLimited
	KindRouteNotFound
	KindBackendUnavailable
	KindBackendTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindRouteNotFound:
		return "route_not_found"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindBackendTimeout:
		return "backend_timeout"
	default:
		return "unknown"
	}
}

// Error is the structured failure produced by every stage of the dispatcher.
// It carries enough to render a response without inspecting the cause.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // set for KindRateLimited
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, gwerror.ErrUnauthorized) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrRouteNotFound      = &Error{Kind: KindRouteNotFound}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrBackendTimeout     = &Error{Kind: KindBackendTimeout}
)

func Unauthorized(message string, cause error) *Error {
	return &Error{Kind: KindUnauthorized, Message: message, Cause: cause}
}

func RateLimited(retryAfter time.Duration) *Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func RouteNotFound(method, path string) *Error {
	return &Error{Kind: KindRouteNotFound, Message: fmt.Sprintf("no route for %s %s", method, path)}
}

func BackendUnavailable(target string, cause error) *Error {
	return &Error{Kind: KindBackendUnavailable, Message: "backend unavailable: " + target, Cause: cause}
}

func BackendTimeout(target string, cause error) *Error {
	return &Error{Kind: KindBackendTimeout, Message: "backend timed out: " + target, Cause: cause}
}

// StatusCode returns the HTTP status the error is rendered with.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindRouteNotFound:
		return http.StatusNotFound
	case KindBackendUnavailable:
		return http.StatusBadGateway
	case KindBackendTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code is the stable machine-readable code placed in the response body.
func (e *Error) Code() string {
	return e.Kind.String()
}

// RetryAfterSeconds rounds the retry hint up to whole seconds, as required by
// the Retry-After header. A positive hint never renders as zero.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Headers returns the response headers that accompany the error.
func (e *Error) Headers() http.Header {
	h := make(http.Header)
	switch e.Kind {
	case KindUnauthorized:
		h.Set("WWW-Authenticate", `Bearer realm="gateway", error="invalid_token"`)
	case KindRateLimited:
		h.Set("Retry-After", strconv.Itoa(e.RetryAfterSeconds()))
	}
	return h
}

// Body returns the JSON body for the error.
func (e *Error) Body() map[string]any {
	body := map[string]any{
		"error": e.Message,
		"code":  e.Code(),
	}
	if e.Kind == KindRateLimited {
		body["retry_after"] = e.RetryAfterSeconds()
	}
	return body
}

// As extracts a *Error from err.
func As(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}
