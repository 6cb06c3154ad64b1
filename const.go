package snoocore

import (
	"os"
	"strconv"
	"time"
)

// Version is reported in the User-Agent header of every request.
const Version = "1.0.0"

const (
	accessTokenPath = "/api/v1/access_token"
	authorizePath   = "/api/v1/authorize"
	revokeTokenPath = "/api/v1/revoke_token"

	defaultOAuthURL = "https://oauth.reddit.com"
	defaultBaseURL  = "https://www.reddit.com"

	// installedClientGrant is the extension grant used by installed
	// applications that cannot hold a client secret.
	installedClientGrant = "https://oauth.reddit.com/grants/installed_client"

	// defaultDeviceID is sent when the caller declines to identify the
	// device. The server requires device IDs of 20-30 ASCII characters
	// and rejects anything else, so no client-side length check is made.
	defaultDeviceID = "DO_NOT_TRACK_THIS_DEVICE"

	// defaultWindowSize is the server's rate limit reset window in seconds.
	defaultWindowSize = 600

	defaultTimeout = 16 * time.Second

	// expirationSlack is subtracted from reported token lifetimes to
	// tolerate clock skew and request latency.
	expirationSlack = 10 * time.Second
)

// Token durations accepted by Authenticator.AuthorizeURL. Permanent grants
// include a refresh token in the code exchange response.
const (
	DurationPermanent = "permanent"
	DurationTemporary = "temporary"
)

// requestTimeout returns the default per-attempt timeout, honoring the
// SNOOCORE_TIMEOUT environment variable (seconds).
func requestTimeout() time.Duration {
	if v := os.Getenv("SNOOCORE_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultTimeout
}
