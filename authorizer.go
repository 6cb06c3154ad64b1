package snoocore

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// BaseAuthorizer is implemented by every authorizer variant in this package.
// The unexported methods keep the set closed: a Session only ever operates on
// an authorizer constructed here, never on a foreign implementation.
type BaseAuthorizer interface {
	// IsValid reports whether the authorizer holds an access token that has
	// not yet passed its local expiration. It says nothing about server-side
	// validity.
	IsValid() bool
	// AccessToken returns the current access token, or "" before
	// authorization.
	AccessToken() string
	// Scopes returns the sorted scopes granted to the current token.
	Scopes() []string
	// Expiration returns the local expiration time of the current token.
	Expiration() time.Time

	authenticator() *Authenticator
	clearAccessToken()
}

// Refresher is the capability to obtain fresh tokens without user
// interaction. Every authorizer except ImplicitAuthorizer implements it;
// Sessions use it for silent reauthentication on expiry and on 401.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// TokenSnapshot is a serializable copy of an authorizer's token state. It
// contains only primitive values, so it round-trips through JSON and can be
// persisted between process runs.
type TokenSnapshot struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Expiration   time.Time `json:"expiration,omitzero"`
}

// baseAuthorizer owns exactly one token lifecycle. Variants embed it and
// supply their grant-specific refresh parameters.
//
// A baseAuthorizer is not synchronized: each Session owns its authorizer,
// and sharing one across concurrent Sessions is not coordinated here.
type baseAuthorizer struct {
	auth         *Authenticator
	accessToken  string
	refreshToken string
	scopes       map[string]struct{}
	expiration   time.Time
}

func (b *baseAuthorizer) authenticator() *Authenticator { return b.auth }

// IsValid reports whether the access token is set and locally unexpired.
func (b *baseAuthorizer) IsValid() bool {
	return b.accessToken != "" && time.Now().Before(b.expiration)
}

// AccessToken returns the current access token.
func (b *baseAuthorizer) AccessToken() string { return b.accessToken }

// RefreshToken returns the current refresh token, or "" if none is held.
func (b *baseAuthorizer) RefreshToken() string { return b.refreshToken }

// SetRefreshToken replaces the refresh token. Intended for refresh hooks
// and token stores that load persisted tokens.
func (b *baseAuthorizer) SetRefreshToken(token string) { b.refreshToken = token }

// Expiration returns the local expiration time of the current token.
func (b *baseAuthorizer) Expiration() time.Time { return b.expiration }

// Scopes returns the sorted scopes granted to the current token.
func (b *baseAuthorizer) Scopes() []string {
	scopes := make([]string, 0, len(b.scopes))
	for scope := range b.scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// HasScope reports whether the current token was granted scope. The "*"
// scope matches everything.
func (b *baseAuthorizer) HasScope(scope string) bool {
	if _, ok := b.scopes["*"]; ok {
		return true
	}
	_, ok := b.scopes[scope]
	return ok
}

func (b *baseAuthorizer) clearAccessToken() {
	b.accessToken = ""
	b.expiration = time.Time{}
	b.scopes = nil
}

// Snapshot returns a serializable copy of the token state.
func (b *baseAuthorizer) Snapshot() TokenSnapshot {
	return TokenSnapshot{
		AccessToken:  b.accessToken,
		RefreshToken: b.refreshToken,
		Scopes:       b.Scopes(),
		Expiration:   b.expiration,
	}
}

// Restore replaces the token state from a snapshot.
func (b *baseAuthorizer) Restore(s TokenSnapshot) {
	b.accessToken = s.AccessToken
	b.refreshToken = s.RefreshToken
	b.scopes = scopeSet(strings.Join(s.Scopes, " "))
	b.expiration = s.Expiration
}

// Revoke revokes the current authorization. When a refresh token is held and
// onlyAccess is false, the refresh token is revoked and the server cascades
// invalidation to every access token derived from it; otherwise the access
// token alone is revoked. Local access state is cleared on success, and the
// refresh token is dropped too unless onlyAccess was requested.
func (b *baseAuthorizer) Revoke(ctx context.Context, onlyAccess bool) error {
	var token, hint string
	switch {
	case b.refreshToken != "" && !onlyAccess:
		token, hint = b.refreshToken, "refresh_token"
	case b.accessToken != "":
		token, hint = b.accessToken, "access_token"
	default:
		return invalidInvocation("no token available to revoke")
	}
	if err := b.auth.RevokeToken(ctx, token, hint); err != nil {
		return err
	}
	b.clearAccessToken()
	if !onlyAccess {
		b.refreshToken = ""
	}
	return nil
}

// requestToken posts grant-specific parameters to the token endpoint and
// applies the resulting tokens. Expiration is anchored at the request send
// time, less a small slack, to tolerate clock skew and latency.
func (b *baseAuthorizer) requestToken(ctx context.Context, data url.Values) error {
	sendTime := time.Now()
	resp, err := b.auth.post(ctx, accessTokenPath, data, http.StatusOK)
	if err != nil {
		return err
	}

	var payload struct {
		AccessToken      string  `json:"access_token"`
		ExpiresIn        float64 `json:"expires_in"`
		Scope            string  `json:"scope"`
		RefreshToken     string  `json:"refresh_token"`
		Error            string  `json:"error"`
		ErrorDescription string  `json:"error_description"`
	}
	if err := resp.JSON(&payload); err != nil {
		return newBadJSON(resp)
	}
	// The authorization server reports some failures through an "error"
	// field on a 200 response; check for that shape before trusting the
	// status code.
	if payload.Error != "" {
		return &OAuthError{Response: resp, Code: payload.Error, Description: payload.ErrorDescription}
	}

	b.accessToken = payload.AccessToken
	b.expiration = sendTime.Add(time.Duration(payload.ExpiresIn*float64(time.Second)) - expirationSlack)
	b.scopes = scopeSet(payload.Scope)
	if payload.RefreshToken != "" {
		b.refreshToken = payload.RefreshToken
	}
	return nil
}

func scopeSet(scope string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, s := range strings.Fields(scope) {
		set[s] = struct{}{}
	}
	return set
}

// Authorizer manages OAuth2 authorization tokens obtained through the
// authorization-code grant, refreshing them through the refresh-token grant.
// It pairs with either a trusted or an untrusted authenticator.
type Authorizer struct {
	baseAuthorizer
	preRefresh  func(*Authorizer) error
	postRefresh func(*Authorizer) error
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithRefreshToken seeds the authorizer with a previously obtained refresh
// token, enabling Refresh without a fresh code exchange.
func WithRefreshToken(token string) AuthorizerOption {
	return func(a *Authorizer) { a.refreshToken = token }
}

// WithPreRefreshHook registers a hook invoked synchronously before each
// token request. The hook may replace the refresh token, e.g. by loading a
// rotated token persisted elsewhere.
func WithPreRefreshHook(fn func(*Authorizer) error) AuthorizerOption {
	return func(a *Authorizer) { a.preRefresh = fn }
}

// WithPostRefreshHook registers a hook invoked synchronously after each
// successful refresh. The hook typically persists the (possibly rotated)
// refresh token.
func WithPostRefreshHook(fn func(*Authorizer) error) AuthorizerOption {
	return func(a *Authorizer) { a.postRefresh = fn }
}

// NewAuthorizer creates a code-grant capable authorizer.
func NewAuthorizer(authenticator *Authenticator, opts ...AuthorizerOption) (*Authorizer, error) {
	if authenticator == nil {
		return nil, invalidInvocation("authenticator not provided")
	}
	a := &Authorizer{baseAuthorizer: baseAuthorizer{auth: authenticator}}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authorize exchanges an out-of-band authorization code for tokens.
func (a *Authorizer) Authorize(ctx context.Context, code string) error {
	if a.auth.redirectURI == "" {
		return invalidInvocation("redirect URI not provided")
	}
	return a.requestToken(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {a.auth.redirectURI},
	})
}

// Refresh obtains a new access token from the refresh token.
func (a *Authorizer) Refresh(ctx context.Context) error {
	if a.preRefresh != nil {
		if err := a.preRefresh(a); err != nil {
			return err
		}
	}
	if a.refreshToken == "" {
		return invalidInvocation("refresh token not provided")
	}
	err := a.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {a.refreshToken},
	})
	if err != nil {
		return err
	}
	if a.postRefresh != nil {
		return a.postRefresh(a)
	}
	return nil
}
