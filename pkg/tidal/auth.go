package tidal

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// AuthService provides OAuth token operations for the Tidal API.
type AuthService struct {
	client *Client
}

// oauthConfig builds the oauth2 configuration pointed at the client's token
// endpoint.
func (a *AuthService) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.client.clientID,
		ClientSecret: a.client.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.client.authURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Refresh exchanges a refresh token for a fresh access token.
//
// Tidal rotates refresh tokens; when the response omits one, the original is
// returned so callers can keep using it.
func (a *AuthService) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, ErrNoAccessToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client.httpClient)
	src := a.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	tokens := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}
