// Package snoocore is the low-level client core for reddit's OAuth2 REST API.
//
// The package deliberately stops short of being a full API client: it has no
// resource models and no pagination helpers. What it provides is the plumbing
// that every higher-level client needs and tends to get wrong: OAuth2 token
// lifecycle management across the supported grant types, adaptive rate
// limiting driven by the server's x-ratelimit response headers, a bounded
// retry strategy with jittered backoff, and a structured error taxonomy
// mapped from HTTP status codes and OAuth error payloads.
//
// A typical read-only client:
//
//	requestor, err := snoocore.NewRequestor("linux:example:v1.0 (by u/example)")
//	if err != nil {
//		return err
//	}
//	authenticator, err := snoocore.NewTrustedAuthenticator(requestor, clientID, clientSecret)
//	if err != nil {
//		return err
//	}
//	authorizer, err := snoocore.NewReadOnlyAuthorizer(authenticator)
//	if err != nil {
//		return err
//	}
//	session, err := snoocore.NewSession(authorizer)
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//
//	body, err := session.Request(ctx, "GET", "/api/v1/me")
//
// Sessions refresh expired tokens silently before each call, so callers never
// deal with token lifecycle directly.
package snoocore
