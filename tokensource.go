package snoocore

import (
	"context"

	"golang.org/x/oauth2"
)

// RefreshableAuthorizer is any authorizer from this package that can obtain
// fresh tokens without user interaction.
type RefreshableAuthorizer interface {
	BaseAuthorizer
	Refresher
}

// TokenSource adapts an authorizer to golang.org/x/oauth2, so credentials
// managed here can drive any oauth2-based HTTP client:
//
//	client := oauth2.NewClient(ctx, snoocore.TokenSource(ctx, authorizer))
//
// The returned source refreshes through the authorizer whenever the held
// token is invalid. It inherits the authorizer's synchronization model: one
// consumer at a time.
func TokenSource(ctx context.Context, authorizer RefreshableAuthorizer) oauth2.TokenSource {
	return &authorizerTokenSource{ctx: ctx, authorizer: authorizer}
}

type authorizerTokenSource struct {
	ctx        context.Context
	authorizer RefreshableAuthorizer
}

func (ts *authorizerTokenSource) Token() (*oauth2.Token, error) {
	if !ts.authorizer.IsValid() {
		if err := ts.authorizer.Refresh(ts.ctx); err != nil {
			return nil, err
		}
	}
	return &oauth2.Token{
		AccessToken: ts.authorizer.AccessToken(),
		TokenType:   "bearer",
		Expiry:      ts.authorizer.Expiration(),
	}, nil
}
