package snoocore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionRequiresAuthorizer(t *testing.T) {
	_, err := NewSession(nil)

	var invocationErr *InvalidInvocationError
	require.ErrorAs(t, err, &invocationErr)
	assert.Equal(t, "invalid Authorizer: <nil>", invocationErr.Message)
}

func TestSessionRequestDecodesJSON(t *testing.T) {
	var captured *http.Request
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"kind": "Listing", "data": {"count": 2}}`))
	}))
	defer session.Close()

	result, err := session.Request(context.Background(), http.MethodGet, "/r/golang/hot")
	require.NoError(t, err)

	decoded, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Listing", decoded["kind"])
	assert.Equal(t, map[string]any{"count": float64(2)}, decoded["data"])

	assert.Equal(t, "/r/golang/hot", captured.URL.Path)
	assert.Equal(t, "1", captured.URL.Query().Get("raw_json"))
	assert.Equal(t, "bearer fake-token", captured.Header.Get("Authorization"))
	assert.Equal(t, "snoocore test suite snoocore/"+Version, captured.Header.Get("User-Agent"))
}

func TestSessionRequestNoContent(t *testing.T) {
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer session.Close()

	result, err := session.Request(context.Background(), http.MethodDelete, "/api/del")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSessionRequestEmptyBody(t *testing.T) {
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer session.Close()

	result, err := session.Request(context.Background(), http.MethodGet, "/api/empty")
	require.NoError(t, err)
	assert.Equal(t, "", result)
}

func TestSessionRequestTooManyRequests(t *testing.T) {
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer session.Close()

	_, err := session.Request(context.Background(), http.MethodGet, "/api/listing")

	var tooMany *TooManyRequestsError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, "5", tooMany.RetryAfter)
	assert.Equal(t,
		"received 429 HTTP response. Please wait at least 5.0 seconds before re-trying this request.",
		tooMany.Error())

	// The broad kind still matches.
	var respErr *ResponseError
	assert.ErrorAs(t, err, &respErr)
}

func TestSessionRequestRedirect(t *testing.T) {
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/r/random.json")
		w.WriteHeader(http.StatusFound)
	}))
	defer session.Close()

	_, err := session.Request(context.Background(), http.MethodGet, "/r/random")

	var redirect *RedirectError
	require.ErrorAs(t, err, &redirect)
	assert.Equal(t, "/r/random", redirect.Path)
}

func TestSessionRequestStatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{
		{"bad request", http.StatusBadRequest, nil, "", func(t *testing.T, err error) {
			var e *BadRequestError
			assert.ErrorAs(t, err, &e)
		}},
		{"not found", http.StatusNotFound, nil, "", func(t *testing.T, err error) {
			var e *NotFoundError
			assert.ErrorAs(t, err, &e)
		}},
		{"conflict", http.StatusConflict, nil, "", func(t *testing.T, err error) {
			var e *ConflictError
			assert.ErrorAs(t, err, &e)
		}},
		{"too large", http.StatusRequestEntityTooLarge, nil, "", func(t *testing.T, err error) {
			var e *TooLargeError
			assert.ErrorAs(t, err, &e)
		}},
		{"uri too long", http.StatusRequestURITooLong, nil, "", func(t *testing.T, err error) {
			var e *URITooLongError
			assert.ErrorAs(t, err, &e)
		}},
		{"legal reasons", http.StatusUnavailableForLegalReasons, nil, "", func(t *testing.T, err error) {
			var e *UnavailableForLegalReasonsError
			assert.ErrorAs(t, err, &e)
		}},
		{"forbidden without header", http.StatusForbidden, nil, "", func(t *testing.T, err error) {
			var e *ForbiddenError
			assert.ErrorAs(t, err, &e)
		}},
		{"forbidden insufficient scope", http.StatusForbidden,
			map[string]string{"Www-Authenticate": `Bearer realm="reddit", error="insufficient_scope"`}, "",
			func(t *testing.T, err error) {
				var e *InsufficientScopeError
				assert.ErrorAs(t, err, &e)
			}},
		{"special error", http.StatusUnsupportedMediaType, nil,
			`{"json": {"message": "Forbidden", "reason": "USER_REQUIRED", "special_errors": []}}`,
			func(t *testing.T, err error) {
				var e *SpecialError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "Forbidden", e.Message)
				assert.Equal(t, "USER_REQUIRED", e.Reason)
			}},
		{"unmapped status", http.StatusTeapot, nil, "", func(t *testing.T, err error) {
			var e *ResponseError
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "received 418 HTTP response", e.Error())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			}))
			defer session.Close()

			_, err := session.Request(context.Background(), http.MethodGet, "/api/anything")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSessionRetriesTransientStatus(t *testing.T) {
	attempts := 0
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`"ok"`))
	}))
	defer session.Close()

	result, err := session.Request(context.Background(), http.MethodGet, "/api/flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempts)
}

func TestSessionRetryBudgetExhausted(t *testing.T) {
	attempts := 0
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer session.Close()

	_, err := session.Request(context.Background(), http.MethodGet, "/api/broken")

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, 3, attempts, "two retries after the initial attempt")
}

func TestSessionRetriesTruncatedResponse(t *testing.T) {
	attempts := 0
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write([]byte(`"recovered"`))
	}))
	defer session.Close()

	result, err := session.Request(context.Background(), http.MethodGet, "/api/drops")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, attempts)
}

func TestSessionReauthenticatesOnUnauthorized(t *testing.T) {
	tokens := []string{"stale-token", "fresh-token"}
	var resourceTokens []string
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == accessTokenPath {
			token := tokens[0]
			if len(tokens) > 1 {
				tokens = tokens[1:]
			}
			writeToken(w, token)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "bearer ")
		resourceTokens = append(resourceTokens, token)
		if token != "fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`"ok"`))
	}))
	authorizer, err := NewScriptAuthorizer(trustedAuth(t, requestor), "user", "pass", nil)
	require.NoError(t, err)
	session, err := NewSession(authorizer)
	require.NoError(t, err)
	defer session.Close()

	result, err := session.Request(context.Background(), http.MethodGet, "/api/me")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"stale-token", "fresh-token"}, resourceTokens)
}

func TestSessionUnauthorizedWithoutRefresher(t *testing.T) {
	attempts := 0
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Www-Authenticate", `Bearer realm="reddit", error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	authorizer, err := NewImplicitAuthorizer(untrustedAuth(t, requestor), "implicit-token", time.Hour, "read")
	require.NoError(t, err)
	session, err := NewSession(authorizer)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Request(context.Background(), http.MethodGet, "/api/me")

	var tokenErr *InvalidTokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, 1, attempts, "no reauthentication possible, so no retry")
}

func TestSessionRefreshFailureSurfaces(t *testing.T) {
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	authorizer, err := NewScriptAuthorizer(trustedAuth(t, requestor), "user", "wrong-pass", nil)
	require.NoError(t, err)
	session, err := NewSession(authorizer)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Request(context.Background(), http.MethodGet, "/api/me")

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusUnauthorized, respErr.Response.StatusCode)
}

func TestSessionQueryParams(t *testing.T) {
	var query url.Values
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer session.Close()

	_, err := session.Request(context.Background(), http.MethodGet, "/api/search",
		WithParams(url.Values{"q": {"golang"}, "limit": {"25"}}),
		WithParam("sort", "new"),
	)
	require.NoError(t, err)

	assert.Equal(t, "golang", query.Get("q"))
	assert.Equal(t, "25", query.Get("limit"))
	assert.Equal(t, "new", query.Get("sort"))
	assert.Equal(t, "1", query.Get("raw_json"))
}

func TestSessionFormBody(t *testing.T) {
	var body string
	var contentType string
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = string(raw)
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	}))
	defer session.Close()

	_, err := session.Request(context.Background(), http.MethodPost, "/api/submit",
		WithForm(map[string]string{"title": "hello world", "sr": "golang"}))
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	// Fields are encoded in sorted key order with api_type injected.
	assert.Equal(t, "api_type=json&sr=golang&title=hello+world", body)
}

func TestSessionJSONBody(t *testing.T) {
	var body map[string]any
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`))
	}))
	defer session.Close()

	_, err := session.Request(context.Background(), http.MethodPost, "/api/widget",
		WithJSONBody(map[string]any{"kind": "menu"}))
	require.NoError(t, err)

	assert.Equal(t, "menu", body["kind"])
	assert.Equal(t, "json", body["api_type"])
}

func TestSessionMultipartBody(t *testing.T) {
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "json", r.FormValue("api_type"))
		assert.Equal(t, "banner", r.FormValue("upload_type"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "banner.png", header.Filename)
		contents, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("image-bytes"), contents)

		w.Write([]byte(`{}`))
	}))
	defer session.Close()

	_, err := session.Request(context.Background(), http.MethodPost, "/api/upload",
		WithForm(map[string]string{"upload_type": "banner"}),
		WithFile("file", "banner.png", strings.NewReader("image-bytes")))
	require.NoError(t, err)
}

func TestSessionCloseIdempotent(t *testing.T) {
	session := scriptSession(t, tokenThen("fake-token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	session.Close()
	session.Close()
}
