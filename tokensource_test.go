package snoocore

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSourceRefreshesOnDemand(t *testing.T) {
	tokenRequests := 0
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		writeToken(w, "fake-token")
	}))
	authorizer, err := NewReadOnlyAuthorizer(trustedAuth(t, requestor))
	require.NoError(t, err)

	source := TokenSource(context.Background(), authorizer)

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "fake-token", token.AccessToken)
	assert.Equal(t, "bearer", token.TokenType)
	assert.True(t, token.Valid())
	assert.Equal(t, authorizer.Expiration(), token.Expiry)

	// A valid token is reused without another endpoint round trip.
	_, err = source.Token()
	require.NoError(t, err)
	assert.Equal(t, 1, tokenRequests)
}

func TestTokenSourceSurfacesRefreshErrors(t *testing.T) {
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	authorizer, err := NewReadOnlyAuthorizer(trustedAuth(t, requestor))
	require.NoError(t, err)

	_, err = TokenSource(context.Background(), authorizer).Token()

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
}
