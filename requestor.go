package snoocore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Request is a single outbound HTTP exchange as seen by the Requestor.
// Bodies are fully buffered so attempts can be replayed by the retry loop.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte

	// Timeout overrides the Requestor's per-attempt timeout when positive.
	Timeout time.Duration
}

// Response is the transport-agnostic result of a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Requestor provides the HTTP request handling interface. It owns the
// underlying *http.Client and is injected into an Authenticator, so
// independent clients never share hidden global transport state.
type Requestor struct {
	client    *http.Client
	userAgent string
	oauthURL  string
	baseURL   string
	timeout   time.Duration
	logger    *slog.Logger
	throttle  float64
}

// RequestorOption configures a Requestor.
type RequestorOption func(*Requestor)

// WithHTTPClient supplies the underlying HTTP client. The client is copied
// so its redirect policy can be pinned without mutating the caller's value.
func WithHTTPClient(c *http.Client) RequestorOption {
	return func(r *Requestor) { r.client = c }
}

// WithOAuthURL overrides the base URL used for authenticated API requests.
func WithOAuthURL(u string) RequestorOption {
	return func(r *Requestor) { r.oauthURL = strings.TrimRight(u, "/") }
}

// WithBaseURL overrides the base URL used for token acquisition, revocation,
// and the browser authorization endpoint.
func WithBaseURL(u string) RequestorOption {
	return func(r *Requestor) { r.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the default per-attempt timeout.
func WithTimeout(d time.Duration) RequestorOption {
	return func(r *Requestor) { r.timeout = d }
}

// WithLogger sets the structured logger used by the Requestor and every
// Session built on top of it.
func WithLogger(logger *slog.Logger) RequestorOption {
	return func(r *Requestor) { r.logger = logger }
}

// WithThrottle adds a client-side floor of at most rps requests per second
// beneath the server-feedback rate limiter. Useful when several processes
// share one set of credentials and the per-session limiter cannot see the
// combined request rate.
func WithThrottle(rps float64) RequestorOption {
	return func(r *Requestor) { r.throttle = rps }
}

// NewRequestor creates a Requestor. The user agent must be descriptive
// (at least 7 characters) per the API's client rules.
func NewRequestor(userAgent string, opts ...RequestorOption) (*Requestor, error) {
	if len(strings.TrimSpace(userAgent)) < 7 {
		return nil, invalidInvocation("user_agent is not descriptive")
	}
	r := &Requestor{
		client:    &http.Client{},
		userAgent: userAgent + " snoocore/" + Version,
		oauthURL:  defaultOAuthURL,
		baseURL:   defaultBaseURL,
		timeout:   requestTimeout(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	// Copy the client: redirects are never followed here, the Session maps
	// 301/302 to RedirectError itself.
	client := *r.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if r.throttle > 0 {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client.Transport = &throttledTransport{
			base:    base,
			limiter: rate.NewLimiter(rate.Limit(r.throttle), 1),
		}
	}
	r.client = &client
	return r, nil
}

// Do issues the HTTP request, capturing any transport error as a
// RequestError. The response body is fully read before returning.
func (r *Requestor) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &RequestError{Method: req.Method, URL: req.URL, Cause: err}
	}
	httpReq.Header.Set("User-Agent", r.userAgent)
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Method: req.Method, URL: req.URL, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: req.Method, URL: req.URL, Cause: err}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// Close releases idle transport connections. Safe to call more than once.
func (r *Requestor) Close() {
	r.client.CloseIdleConnections()
}

// throttledTransport rate limits requests at the connection level.
type throttledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
