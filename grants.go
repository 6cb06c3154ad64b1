package snoocore

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// ReadOnlyAuthorizer obtains application-only tokens through the
// client-credentials grant. It requires a trusted authenticator.
type ReadOnlyAuthorizer struct {
	baseAuthorizer
	requestScopes []string
}

// NewReadOnlyAuthorizer creates a read-only authorizer. When scopes are
// given they are requested instead of the server's default scope set.
func NewReadOnlyAuthorizer(authenticator *Authenticator, scopes ...string) (*ReadOnlyAuthorizer, error) {
	if authenticator == nil {
		return nil, invalidInvocation("authenticator not provided")
	}
	if !authenticator.confidential {
		return nil, invalidInvocation("ReadOnlyAuthorizer requires a trusted authenticator")
	}
	return &ReadOnlyAuthorizer{
		baseAuthorizer: baseAuthorizer{auth: authenticator},
		requestScopes:  scopes,
	}, nil
}

// Refresh obtains a new read-only access token.
func (a *ReadOnlyAuthorizer) Refresh(ctx context.Context) error {
	data := url.Values{"grant_type": {"client_credentials"}}
	if len(a.requestScopes) > 0 {
		data.Set("scope", strings.Join(a.requestScopes, " "))
	}
	return a.requestToken(ctx, data)
}

// TwoFactorFunc supplies a one-time password for accounts with two-factor
// authentication enabled. It is invoked lazily, once per token request.
type TwoFactorFunc func() (string, error)

// ScriptAuthorizer obtains tokens through the password grant on behalf of a
// script application's own account. It requires a trusted authenticator.
type ScriptAuthorizer struct {
	baseAuthorizer
	username  string
	password  string
	twoFactor TwoFactorFunc
}

// NewScriptAuthorizer creates a script authorizer. twoFactor may be nil for
// accounts without two-factor authentication.
func NewScriptAuthorizer(authenticator *Authenticator, username, password string, twoFactor TwoFactorFunc) (*ScriptAuthorizer, error) {
	if authenticator == nil {
		return nil, invalidInvocation("authenticator not provided")
	}
	if !authenticator.confidential {
		return nil, invalidInvocation("ScriptAuthorizer requires a trusted authenticator")
	}
	return &ScriptAuthorizer{
		baseAuthorizer: baseAuthorizer{auth: authenticator},
		username:       username,
		password:       password,
		twoFactor:      twoFactor,
	}, nil
}

// Refresh obtains a new access token from the stored credentials, appending
// a one-time password when a two-factor callback is configured.
func (a *ScriptAuthorizer) Refresh(ctx context.Context) error {
	data := url.Values{
		"grant_type": {"password"},
		"username":   {a.username},
		"password":   {a.password},
	}
	if a.twoFactor != nil {
		otp, err := a.twoFactor()
		if err != nil {
			return err
		}
		if otp != "" {
			data.Set("otp", otp)
		}
	}
	return a.requestToken(ctx, data)
}

// DeviceIDAuthorizer obtains tokens through the installed-client extension
// grant, identifying the installation by a device ID. It requires an
// untrusted authenticator.
//
// The server expects device IDs of 20-30 ASCII characters; out-of-range IDs
// are sent as-is and rejected server-side with an OAuthError.
type DeviceIDAuthorizer struct {
	baseAuthorizer
	deviceID string
}

// NewDeviceIDAuthorizer creates a device-id authorizer. An empty deviceID
// selects the do-not-track placeholder.
func NewDeviceIDAuthorizer(authenticator *Authenticator, deviceID string) (*DeviceIDAuthorizer, error) {
	if authenticator == nil {
		return nil, invalidInvocation("authenticator not provided")
	}
	if authenticator.confidential {
		return nil, invalidInvocation("DeviceIDAuthorizer requires an untrusted authenticator")
	}
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	return &DeviceIDAuthorizer{
		baseAuthorizer: baseAuthorizer{auth: authenticator},
		deviceID:       deviceID,
	}, nil
}

// Refresh obtains a new access token for this device.
func (a *DeviceIDAuthorizer) Refresh(ctx context.Context) error {
	return a.requestToken(ctx, url.Values{
		"grant_type": {installedClientGrant},
		"device_id":  {a.deviceID},
	})
}

// ImplicitAuthorizer wraps an access token obtained out-of-band through the
// implicit flow. It is valid immediately and cannot refresh: once the token
// expires a new one must be obtained through a fresh browser authorization.
// It requires an untrusted authenticator.
type ImplicitAuthorizer struct {
	baseAuthorizer
}

// NewImplicitAuthorizer wraps a pre-obtained implicit-flow token. scope is
// the space-delimited scope string from the authorization redirect.
func NewImplicitAuthorizer(authenticator *Authenticator, accessToken string, expiresIn time.Duration, scope string) (*ImplicitAuthorizer, error) {
	if authenticator == nil {
		return nil, invalidInvocation("authenticator not provided")
	}
	if authenticator.confidential {
		return nil, invalidInvocation("ImplicitAuthorizer requires an untrusted authenticator")
	}
	a := &ImplicitAuthorizer{baseAuthorizer{auth: authenticator}}
	a.accessToken = accessToken
	a.expiration = time.Now().Add(expiresIn)
	a.scopes = scopeSet(scope)
	return a, nil
}
