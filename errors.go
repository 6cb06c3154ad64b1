package snoocore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// InvalidInvocationError indicates caller misuse detected before any network
// call was made: a missing redirect URI, a capability mismatch between an
// authenticator and an authorizer, a missing token, and the like.
type InvalidInvocationError struct {
	Message string
}

func (e *InvalidInvocationError) Error() string { return e.Message }

func invalidInvocation(format string, args ...any) *InvalidInvocationError {
	return &InvalidInvocationError{Message: fmt.Sprintf(format, args...)}
}

// RequestError indicates the transport failed before an HTTP response was
// obtained. The original transport error is available via Unwrap.
type RequestError struct {
	Method string
	URL    string
	Cause  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("error with request %s %s: %v", e.Method, e.URL, e.Cause)
}

func (e *RequestError) Unwrap() error { return e.Cause }

// ResponseError indicates an HTTP response with an unexpected status was
// obtained. Specific statuses map to the typed errors below, all of which
// embed ResponseError so callers can match either the broad or the narrow
// kind with errors.As.
type ResponseError struct {
	Response *Response
	message  string
}

func newResponseError(resp *Response) *ResponseError {
	return &ResponseError{
		Response: resp,
		message:  fmt.Sprintf("received %d HTTP response", resp.StatusCode),
	}
}

func (e *ResponseError) Error() string { return e.message }

// BadJSONError indicates a success-status response whose body failed to parse
// as JSON. The raw response is retained for inspection.
type BadJSONError struct{ ResponseError }

func newBadJSON(resp *Response) *BadJSONError {
	return &BadJSONError{ResponseError{
		Response: resp,
		message:  fmt.Sprintf("unable to parse JSON from %d HTTP response (%d bytes)", resp.StatusCode, len(resp.Body)),
	}}
}

// BadRequestError corresponds to HTTP 400.
type BadRequestError struct{ ResponseError }

// ConflictError corresponds to HTTP 409.
type ConflictError struct{ ResponseError }

// NotFoundError corresponds to HTTP 404.
type NotFoundError struct{ ResponseError }

// TooLargeError corresponds to HTTP 413.
type TooLargeError struct{ ResponseError }

// URITooLongError corresponds to HTTP 414.
type URITooLongError struct{ ResponseError }

// UnavailableForLegalReasonsError corresponds to HTTP 451.
type UnavailableForLegalReasonsError struct{ ResponseError }

// ServerError corresponds to HTTP 500, 502, 504 and Cloudflare's 520/522
// when they survive the retry budget.
type ServerError struct{ ResponseError }

// ForbiddenError corresponds to HTTP 401/403 without a recognized
// www-authenticate token error code.
type ForbiddenError struct{ ResponseError }

// InvalidTokenError corresponds to HTTP 401/403 with an "invalid_token"
// www-authenticate error code. The access token was rejected server-side.
type InvalidTokenError struct{ ResponseError }

// InsufficientScopeError corresponds to HTTP 401/403 with an
// "insufficient_scope" www-authenticate error code.
type InsufficientScopeError struct{ ResponseError }

// TooManyRequestsError corresponds to HTTP 429. RetryAfter carries the raw
// retry-after header value when present.
type TooManyRequestsError struct {
	ResponseError
	RetryAfter string
}

func newTooManyRequests(resp *Response) error {
	e := &TooManyRequestsError{
		ResponseError: *newResponseError(resp),
		RetryAfter:    resp.Header.Get("retry-after"),
	}
	if secs, err := strconv.ParseFloat(e.RetryAfter, 64); err == nil {
		e.message = fmt.Sprintf(
			"received %d HTTP response. Please wait at least %.1f seconds before re-trying this request.",
			resp.StatusCode, secs,
		)
	}
	return e
}

// RedirectError corresponds to HTTP 301/302. Path is the redirect target's
// path with any ".json" suffix stripped.
type RedirectError struct {
	ResponseError
	Path string
}

func newRedirect(resp *Response) error {
	path := resp.Header.Get("location")
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	path = strings.TrimSuffix(path, ".json")
	msg := fmt.Sprintf("Redirect to %s", path)
	if strings.Contains(path, "/login") {
		msg += " (are you using a valid, authorized session?)"
	}
	return &RedirectError{
		ResponseError: ResponseError{Response: resp, message: msg},
		Path:          path,
	}
}

// SpecialError corresponds to HTTP 415, whose body carries a structured
// error document under a "json" key.
type SpecialError struct {
	ResponseError
	Message       string
	Reason        string
	SpecialErrors []any
}

func newSpecialError(resp *Response) error {
	e := &SpecialError{ResponseError: *newResponseError(resp)}
	var payload struct {
		JSON struct {
			Message       string `json:"message"`
			Reason        string `json:"reason"`
			SpecialErrors []any  `json:"special_errors"`
		} `json:"json"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err == nil {
		e.Message = payload.JSON.Message
		e.Reason = payload.JSON.Reason
		e.SpecialErrors = payload.JSON.SpecialErrors
		e.message = fmt.Sprintf("special error %q: %s", e.Reason, e.Message)
	}
	return e
}

// OAuthError indicates the token endpoint reported failure through an
// "error" field in an otherwise successful JSON response. The authorization
// server signals some error classes this way despite a 200 status.
type OAuthError struct {
	Response    *Response
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s error processing request (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("%s error processing request", e.Code)
}

// authorizationError disambiguates 401/403 responses using the token error
// code of the www-authenticate header, defaulting to ForbiddenError when the
// header or code is absent or unrecognized.
func authorizationError(resp *Response) error {
	header := resp.Header.Get("www-authenticate")
	if header == "" {
		return &ForbiddenError{*newResponseError(resp)}
	}
	code := strings.ReplaceAll(header, `"`, "")
	if idx := strings.LastIndex(code, "="); idx >= 0 {
		code = code[idx+1:]
	}
	switch code {
	case "insufficient_scope":
		return &InsufficientScopeError{*newResponseError(resp)}
	case "invalid_token":
		return &InvalidTokenError{*newResponseError(resp)}
	default:
		return &ForbiddenError{*newResponseError(resp)}
	}
}

func newServerError(resp *Response) error {
	return &ServerError{*newResponseError(resp)}
}

// statusErrors maps response status codes to their typed errors.
var statusErrors = map[int]func(*Response) error{
	http.StatusBadRequest:   func(r *Response) error { return &BadRequestError{*newResponseError(r)} },
	http.StatusUnauthorized: authorizationError,
	http.StatusForbidden:    authorizationError,
	http.StatusNotFound:     func(r *Response) error { return &NotFoundError{*newResponseError(r)} },
	http.StatusConflict:     func(r *Response) error { return &ConflictError{*newResponseError(r)} },
	http.StatusRequestEntityTooLarge: func(r *Response) error {
		return &TooLargeError{*newResponseError(r)}
	},
	http.StatusRequestURITooLong:    func(r *Response) error { return &URITooLongError{*newResponseError(r)} },
	http.StatusUnsupportedMediaType: newSpecialError,
	http.StatusUnavailableForLegalReasons: func(r *Response) error {
		return &UnavailableForLegalReasonsError{*newResponseError(r)}
	},
	http.StatusTooManyRequests:     newTooManyRequests,
	http.StatusMovedPermanently:    newRedirect,
	http.StatusFound:               newRedirect,
	http.StatusInternalServerError: newServerError,
	http.StatusBadGateway:          newServerError,
	http.StatusServiceUnavailable:  newServerError,
	http.StatusGatewayTimeout:      newServerError,
	statusCloudflareUnknown:        newServerError,
	statusCloudflareTimeout:        newServerError,
}

// Cloudflare-specific statuses without net/http names.
const (
	statusCloudflareUnknown = 520
	statusCloudflareTimeout = 522
)
