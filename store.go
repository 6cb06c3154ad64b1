package snoocore

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// TokenStore persists refresh tokens between process runs. Load returns ""
// without error when no token has been stored yet.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
}

// WithTokenStore binds store to the authorizer's refresh hooks: the refresh
// token is loaded before the first token request when none is held, and
// persisted after every successful refresh so rotated tokens are never lost.
func WithTokenStore(store TokenStore) AuthorizerOption {
	return func(a *Authorizer) {
		a.preRefresh = func(a *Authorizer) error {
			if a.RefreshToken() != "" {
				return nil
			}
			token, err := store.Load()
			if err != nil {
				return err
			}
			if token != "" {
				a.SetRefreshToken(token)
			}
			return nil
		}
		a.postRefresh = func(a *Authorizer) error {
			return store.Save(a.RefreshToken())
		}
	}
}

// KeyringStore keeps the refresh token in the operating system keychain:
// Keychain Access on macOS, the Secret Service API on Linux, Credential
// Manager on Windows.
type KeyringStore struct {
	// Service identifies the application; defaults to "snoocore".
	Service string
	// User identifies the account the token belongs to.
	User string
}

func (s *KeyringStore) service() string {
	if s.Service == "" {
		return "snoocore"
	}
	return s.Service
}

// Load fetches the stored refresh token, or "" when none exists.
func (s *KeyringStore) Load() (string, error) {
	token, err := keyring.Get(s.service(), s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Save stores the refresh token.
func (s *KeyringStore) Save(token string) error {
	return keyring.Set(s.service(), s.User, token)
}

// FileStore keeps the refresh token in a mode 0600 file, for systems
// without a keychain service.
type FileStore struct {
	Path string
}

// Load reads the stored refresh token, or "" when the file does not exist.
func (s *FileStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the refresh token.
func (s *FileStore) Save(token string) error {
	return os.WriteFile(s.Path, []byte(token+"\n"), 0o600)
}
