package snoocore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// retryStatuses are transient server statuses retried within the budget:
// the usual gateway/server failures plus Cloudflare's 520 and 522.
var retryStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	statusCloudflareUnknown:        true,
	statusCloudflareTimeout:        true,
}

var successStatuses = map[int]bool{
	http.StatusOK:       true,
	http.StatusCreated:  true,
	http.StatusAccepted: true,
}

// Session is the low-level connection interface to the API. It orchestrates
// one logical request end to end: ensures the authorizer holds a valid
// token (refreshing silently when possible), delegates the physical call
// through the rate limiter, retries transient failures within a bounded
// budget, and maps terminal statuses to typed errors.
type Session struct {
	authorizer BaseAuthorizer
	limiter    *rateLimiter
	retries    int
	logger     *slog.Logger
	metrics    *Metrics
	closeOnce  sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithWindowSize overrides the rate limit reset window, in seconds.
func WithWindowSize(seconds int) SessionOption {
	return func(s *Session) { s.limiter.windowSize = seconds }
}

// WithRetries overrides the per-request retry budget.
func WithRetries(retries int) SessionOption {
	return func(s *Session) { s.retries = retries }
}

// WithSessionLogger overrides the logger inherited from the Requestor.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
		s.limiter.logger = logger
	}
}

// WithSessionMetrics attaches Prometheus instrumentation to the Session.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
		s.limiter.onSleep = func(d time.Duration) {
			m.RateLimitSleep.Add(d.Seconds())
		}
	}
}

// NewSession prepares a connection to the API on behalf of authorizer. The
// authorizer must come from this package; a nil authorizer fails fast.
func NewSession(authorizer BaseAuthorizer, opts ...SessionOption) (*Session, error) {
	if authorizer == nil {
		return nil, invalidInvocation("invalid Authorizer: <nil>")
	}
	logger := authorizer.authenticator().requestor.logger
	s := &Session{
		authorizer: authorizer,
		limiter:    newRateLimiter(defaultWindowSize, logger),
		retries:    defaultRetries,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying transport resources. It is safe to call
// once per Session lifetime from any exit path; extra calls are no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.authorizer.authenticator().requestor.Close()
	})
}

// requestOptions collects the per-request inputs of Session.Request.
type requestOptions struct {
	params  url.Values
	form    map[string]string
	json    any
	hasJSON bool
	files   []fileUpload
	timeout time.Duration
}

type fileUpload struct {
	field    string
	filename string
	reader   io.Reader
}

// RequestOption configures one Session.Request call.
type RequestOption func(*requestOptions)

// WithParams adds query parameters to the request.
func WithParams(params url.Values) RequestOption {
	return func(o *requestOptions) {
		for k, vs := range params {
			for _, v := range vs {
				o.params.Add(k, v)
			}
		}
	}
}

// WithParam adds a single query parameter.
func WithParam(key, value string) RequestOption {
	return func(o *requestOptions) { o.params.Set(key, value) }
}

// WithForm sends data as a form-encoded body. An api_type=json field is
// injected and fields are encoded in key order, since some endpoints are
// sensitive to field presence and ordering.
func WithForm(data map[string]string) RequestOption {
	return func(o *requestOptions) { o.form = data }
}

// WithJSONBody sends body serialized as JSON. Map bodies get an
// api_type=json member injected, without reordering.
func WithJSONBody(body any) RequestOption {
	return func(o *requestOptions) {
		o.json = body
		o.hasJSON = true
	}
}

// WithFile attaches a file to be sent as a multipart upload, alongside any
// form fields.
func WithFile(field, filename string, r io.Reader) RequestOption {
	return func(o *requestOptions) {
		o.files = append(o.files, fileUpload{field: field, filename: filename, reader: r})
	}
}

// WithRequestTimeout overrides the per-attempt timeout for this request.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// Request returns the decoded JSON body of the resource at path, joined to
// the configured OAuth base URL. A 204 yields nil; a zero-length success
// body yields ""; anything else decodes as JSON into maps, slices, and
// primitives.
//
// The access token is refreshed automatically when it is invalid and the
// authorizer supports refreshing; an InvalidInvocationError is returned when
// refreshing is needed but no refresh token is available.
func (s *Session) Request(ctx context.Context, method, path string, opts ...RequestOption) (any, error) {
	o := &requestOptions{params: url.Values{}}
	for _, opt := range opts {
		opt(o)
	}
	o.params.Set("raw_json", "1")

	requestor := s.authorizer.authenticator().requestor
	u, err := joinURL(requestor.oauthURL, path)
	if err != nil {
		return nil, invalidInvocation("invalid path %q: %v", path, err)
	}
	u += "?" + o.params.Encode()

	body, contentType, err := o.encodeBody()
	if err != nil {
		return nil, err
	}

	strategy := NewFiniteRetryStrategy(s.retries)
	for {
		if err := strategy.sleep(ctx, s.logger); err != nil {
			return nil, err
		}
		s.logger.Debug("fetching", "method", method, "url", u)

		resp, err := s.makeRequest(ctx, method, u, body, contentType, o.timeout)
		if err != nil {
			var reqErr *RequestError
			if errors.As(err, &reqErr) && strategy.ShouldRetryOnFailure() && isTransientTransportError(reqErr.Cause) {
				s.logger.Warn("retrying due to transport error",
					"method", method, "url", u, "error", reqErr.Cause)
				strategy = s.consumeRetry(strategy)
				continue
			}
			return nil, err
		}

		s.observe(method, resp.StatusCode)

		retry := false
		if resp.StatusCode == http.StatusUnauthorized {
			// Drop the cached token; the next attempt's header callback
			// reauthenticates when the authorizer can refresh.
			s.authorizer.clearAccessToken()
			if _, ok := s.authorizer.(Refresher); ok {
				retry = true
			}
		} else if retryStatuses[resp.StatusCode] {
			retry = true
		}
		if retry && strategy.ShouldRetryOnFailure() {
			s.logger.Warn("retrying due to status",
				"status", resp.StatusCode, "method", method, "url", u)
			strategy = s.consumeRetry(strategy)
			continue
		}

		return decodeResponse(resp)
	}
}

func (s *Session) consumeRetry(strategy FiniteRetryStrategy) FiniteRetryStrategy {
	if s.metrics != nil {
		s.metrics.Retries.Inc()
	}
	return strategy.ConsumeAvailableRetry()
}

func (s *Session) observe(method string, status int) {
	if s.metrics != nil {
		s.metrics.Requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
}

// makeRequest performs one physical attempt through the rate limiter,
// which computes the Authorization header only after any quota wait.
func (s *Session) makeRequest(ctx context.Context, method, u string, body []byte, contentType string, timeout time.Duration) (*Response, error) {
	requestor := s.authorizer.authenticator().requestor
	resp, err := s.limiter.call(ctx, s.setHeader,
		func(ctx context.Context, header map[string]string) (*Response, error) {
			if contentType != "" {
				header["Content-Type"] = contentType
			}
			return requestor.Do(ctx, &Request{
				Method:  method,
				URL:     u,
				Header:  header,
				Body:    body,
				Timeout: timeout,
			})
		})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("response",
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
		"ratelimit_reset", resp.Header.Get("x-ratelimit-reset"),
		"ratelimit_remaining", resp.Header.Get("x-ratelimit-remaining"),
		"ratelimit_used", resp.Header.Get("x-ratelimit-used"))
	return resp, nil
}

// setHeader reauthenticates if needed and returns fresh request headers.
func (s *Session) setHeader(ctx context.Context) (map[string]string, error) {
	if !s.authorizer.IsValid() {
		if refresher, ok := s.authorizer.(Refresher); ok {
			if err := refresher.Refresh(ctx); err != nil {
				return nil, err
			}
		}
	}
	return map[string]string{"Authorization": "bearer " + s.authorizer.AccessToken()}, nil
}

func decodeResponse(resp *Response) (any, error) {
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case statusErrors[resp.StatusCode] != nil:
		return nil, statusErrors[resp.StatusCode](resp)
	case !successStatuses[resp.StatusCode]:
		return nil, newResponseError(resp)
	case len(resp.Body) == 0:
		return "", nil
	}
	var decoded any
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, newBadJSON(resp)
	}
	return decoded, nil
}

// encodeBody resolves the request body. Files take precedence and fold any
// form fields into the multipart payload; otherwise form data is sent
// url-encoded and JSON bodies are marshaled.
func (o *requestOptions) encodeBody() ([]byte, string, error) {
	switch {
	case len(o.files) > 0:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if o.form != nil {
			for k, v := range formWithAPIType(o.form) {
				if err := w.WriteField(k, v); err != nil {
					return nil, "", invalidInvocation("encoding multipart field %q: %v", k, err)
				}
			}
		}
		for _, f := range o.files {
			part, err := w.CreateFormFile(f.field, f.filename)
			if err != nil {
				return nil, "", invalidInvocation("encoding multipart file %q: %v", f.field, err)
			}
			if _, err := io.Copy(part, f.reader); err != nil {
				return nil, "", invalidInvocation("reading multipart file %q: %v", f.field, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", invalidInvocation("finalizing multipart body: %v", err)
		}
		return buf.Bytes(), w.FormDataContentType(), nil

	case o.form != nil:
		values := url.Values{}
		for k, v := range formWithAPIType(o.form) {
			values.Set(k, v)
		}
		// url.Values.Encode emits keys in sorted order, giving the stable
		// field ordering some endpoints require.
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil

	case o.hasJSON:
		body := o.json
		if m, ok := body.(map[string]any); ok {
			copied := make(map[string]any, len(m)+1)
			for k, v := range m {
				copied[k] = v
			}
			copied["api_type"] = "json"
			body = copied
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, "", invalidInvocation("encoding JSON body: %v", err)
		}
		return encoded, "application/json", nil
	}
	return nil, "", nil
}

func formWithAPIType(form map[string]string) map[string]string {
	copied := make(map[string]string, len(form)+1)
	for k, v := range form {
		copied[k] = v
	}
	copied["api_type"] = "json"
	return copied
}

// joinURL resolves ref against base with URL-join semantics.
func joinURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// isTransientTransportError reports whether a transport failure is in the
// retryable set: timeouts, connection resets and refusals, and truncated
// responses.
func isTransientTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
