package snoocore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestRequestor points a Requestor's OAuth and token endpoints at a fake
// server and cleans both up with the test.
func newTestRequestor(t *testing.T, handler http.Handler) *Requestor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	requestor, err := NewRequestor("snoocore test suite",
		WithOAuthURL(server.URL),
		WithBaseURL(server.URL),
	)
	require.NoError(t, err)
	t.Cleanup(requestor.Close)
	return requestor
}

func trustedAuth(t *testing.T, requestor *Requestor) *Authenticator {
	t.Helper()
	auth, err := NewTrustedAuthenticator(requestor, "client-id", "client-secret")
	require.NoError(t, err)
	return auth
}

func untrustedAuth(t *testing.T, requestor *Requestor) *Authenticator {
	t.Helper()
	auth, err := NewUntrustedAuthenticator(requestor, "client-id")
	require.NoError(t, err)
	return auth
}

// writeToken responds with a standard token endpoint success payload.
func writeToken(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"expires_in":   3600,
		"scope":        "read identity",
	})
}

// tokenThen serves the token endpoint and delegates everything else.
func tokenThen(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == accessTokenPath {
			writeToken(w, token)
			return
		}
		next(w, r)
	}
}

// scriptSession builds a Session over a ScriptAuthorizer against handler.
func scriptSession(t *testing.T, handler http.HandlerFunc, opts ...SessionOption) *Session {
	t.Helper()
	requestor := newTestRequestor(t, handler)
	authorizer, err := NewScriptAuthorizer(trustedAuth(t, requestor), "user", "pass", nil)
	require.NoError(t, err)
	session, err := NewSession(authorizer, opts...)
	require.NoError(t, err)
	return session
}
