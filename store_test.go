package snoocore

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refresh-token")
	store := &FileStore{Path: path}

	token, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, token, "missing file reads as no token")

	require.NoError(t, store.Save("the-refresh-token"))

	token, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "the-refresh-token", token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

type memoryStore struct {
	token string
	loads int
	saves int
}

func (s *memoryStore) Load() (string, error) {
	s.loads++
	return s.token, nil
}

func (s *memoryStore) Save(token string) error {
	s.saves++
	s.token = token
	return nil
}

func TestWithTokenStoreLoadsBeforeRefresh(t *testing.T) {
	var form url.Values
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeToken(w, "fake-token")
	}))
	store := &memoryStore{token: "persisted-refresh"}
	authorizer, err := NewAuthorizer(trustedAuth(t, requestor), WithTokenStore(store))
	require.NoError(t, err)

	require.NoError(t, authorizer.Refresh(context.Background()))

	assert.Equal(t, "persisted-refresh", form.Get("refresh_token"))
	assert.Equal(t, 1, store.loads)
	assert.Equal(t, 1, store.saves)
}

func TestWithTokenStorePersistsRotatedToken(t *testing.T) {
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "fake-token", "refresh_token": "rotated-refresh",
			"expires_in": 3600, "scope": "read"}`))
	}))
	store := &memoryStore{token: "original-refresh"}
	authorizer, err := NewAuthorizer(trustedAuth(t, requestor), WithTokenStore(store))
	require.NoError(t, err)

	require.NoError(t, authorizer.Refresh(context.Background()))

	assert.Equal(t, "rotated-refresh", store.token)
	assert.Equal(t, "rotated-refresh", authorizer.RefreshToken())
}

func TestWithTokenStoreSkipsLoadWhenTokenHeld(t *testing.T) {
	requestor := newTestRequestor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, "fake-token")
	}))
	store := &memoryStore{token: "persisted-refresh"}
	authorizer, err := NewAuthorizer(trustedAuth(t, requestor),
		WithRefreshToken("seeded-refresh"), WithTokenStore(store))
	require.NoError(t, err)

	require.NoError(t, authorizer.Refresh(context.Background()))
	assert.Equal(t, 0, store.loads, "held token wins over the store")
}
