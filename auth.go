package snoocore

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

// Authenticator stores OAuth2 client credentials and performs the token
// operations that do not depend on a specific user grant: building the
// out-of-band authorization URL and revoking tokens.
//
// Trusted (confidential) authenticators hold a client secret; untrusted
// (public) authenticators never do and authenticate with an empty secret.
type Authenticator struct {
	requestor    *Requestor
	clientID     string
	clientSecret string
	redirectURI  string
	confidential bool
}

// NewTrustedAuthenticator creates an authenticator for a confidential
// client, one that can safely hold a client secret (a server-side or
// script application).
func NewTrustedAuthenticator(requestor *Requestor, clientID, clientSecret string) (*Authenticator, error) {
	if requestor == nil {
		return nil, invalidInvocation("requestor not provided")
	}
	if clientID == "" || clientSecret == "" {
		return nil, invalidInvocation("trusted authenticators require a client id and a client secret")
	}
	return &Authenticator{
		requestor:    requestor,
		clientID:     clientID,
		clientSecret: clientSecret,
		confidential: true,
	}, nil
}

// NewUntrustedAuthenticator creates an authenticator for a public client,
// one that cannot hold a secret (an installed or mobile application). Such
// clients use the device-id or implicit flows.
func NewUntrustedAuthenticator(requestor *Requestor, clientID string) (*Authenticator, error) {
	if requestor == nil {
		return nil, invalidInvocation("requestor not provided")
	}
	if clientID == "" {
		return nil, invalidInvocation("client id not provided")
	}
	return &Authenticator{requestor: requestor, clientID: clientID}, nil
}

// SetRedirectURI sets the redirect URI after construction, for callers that
// defer redirect configuration until a listener is bound.
func (a *Authenticator) SetRedirectURI(uri string) { a.redirectURI = uri }

// AuthorizeURL builds the URL to direct a user to for out-of-band
// authorization.
//
// duration is DurationPermanent or DurationTemporary; permanent requests a
// refresh token in addition to the access token. When implicit is true the
// response type is "token" (an access token is returned directly, with no
// code exchange); the implicit flow is only available to untrusted
// authenticators and cannot be combined with a permanent duration.
func (a *Authenticator) AuthorizeURL(duration string, scopes []string, state string, implicit bool) (string, error) {
	if a.redirectURI == "" {
		return "", invalidInvocation("redirect URI not provided")
	}
	if implicit && a.confidential {
		return "", invalidInvocation("only untrusted authenticators can use the implicit grant flow")
	}
	if implicit && duration != DurationTemporary {
		return "", invalidInvocation(`implicit grant requires temporary duration, got %q`, duration)
	}
	responseType := "code"
	if implicit {
		responseType = "token"
	}
	params := url.Values{
		"client_id":     {a.clientID},
		"duration":      {duration},
		"redirect_uri":  {a.redirectURI},
		"response_type": {responseType},
		"scope":         {strings.Join(scopes, " ")},
		"state":         {state},
	}
	return a.requestor.baseURL + authorizePath + "?" + params.Encode(), nil
}

// RevokeToken asks the authorization server to revoke token. Revoking a
// refresh token cascades to all access tokens derived from it. The optional
// tokenTypeHint is passed through when non-empty.
func (a *Authenticator) RevokeToken(ctx context.Context, token, tokenTypeHint string) error {
	data := url.Values{"token": {token}}
	if tokenTypeHint != "" {
		data.Set("token_type_hint", tokenTypeHint)
	}
	_, err := a.post(ctx, revokeTokenPath, data, http.StatusNoContent)
	return err
}

// post sends a form-encoded request to the authorization server using basic
// auth of the client credentials (empty secret for untrusted clients). Any
// status other than successStatus is a terminal ResponseError.
func (a *Authenticator) post(ctx context.Context, path string, data url.Values, successStatus int) (*Response, error) {
	req := &Request{
		Method: http.MethodPost,
		URL:    a.requestor.baseURL + path,
		Header: map[string]string{
			"Authorization": a.basicAuth(),
			"Content-Type":  "application/x-www-form-urlencoded",
		},
		Body: []byte(data.Encode()),
	}
	resp, err := a.requestor.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != successStatus {
		return nil, newResponseError(resp)
	}
	return resp, nil
}

func (a *Authenticator) basicAuth() string {
	credentials := a.clientID + ":" + a.clientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}
