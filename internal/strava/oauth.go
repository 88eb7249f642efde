package strava

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/runnershigh/stravasync/internal/domain"
)

// OAuthConfig holds the provider application settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// AuthURL is the consent page, TokenURL the exchange endpoint.
	AuthURL     string
	TokenURL    string
	RedirectURL string
}

// OAuth performs authorization-code and refresh-token exchanges against the
// provider token endpoint.
type OAuth struct {
	cfg *oauth2.Config
}

// NewOAuth builds the exchanger. Strava expects client credentials in the POST
// body, hence the explicit auth style.
func NewOAuth(cfg OAuthConfig) *OAuth {
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{"activity:read_all,activity:write"},
		},
	}
}

// AuthCodeURL returns the consent URL the user is redirected to.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// Exchange trades an authorization code for the initial token grant. The
// athlete id is carried in the token response body alongside the tokens; a
// response without it is rejected since the grant could not be stored.
func (o *OAuth) Exchange(ctx context.Context, code string) (domain.TokenGrant, error) {
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return domain.TokenGrant{}, wrapTokenError(err)
	}

	grant := grantFromToken(tok)

	athlete, ok := tok.Extra("athlete").(map[string]interface{})
	if !ok {
		return domain.TokenGrant{}, errors.New("token response missing athlete object")
	}
	id, ok := athlete["id"].(float64)
	if !ok || id == 0 {
		return domain.TokenGrant{}, errors.New("token response missing athlete id")
	}
	grant.AthleteID = int64(id)

	return grant, nil
}

// Refresh returns a grant for the credential, exchanging the refresh token only
// when the access token has expired. The boolean reports whether a network
// refresh happened and the tokens rotated; when false the returned grant echoes
// the stored values and no provider call was made.
func (o *OAuth) Refresh(ctx context.Context, cred *domain.Credential) (domain.TokenGrant, bool, error) {
	current := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Unix(cred.ExpiresAt, 0),
	}

	tok, err := o.cfg.TokenSource(ctx, current).Token()
	if err != nil {
		return domain.TokenGrant{}, false, wrapTokenError(err)
	}

	if tok.AccessToken == cred.AccessToken {
		return grantFromToken(current), false, nil
	}
	return grantFromToken(tok), true, nil
}

func grantFromToken(tok *oauth2.Token) domain.TokenGrant {
	grant := domain.TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Unix(),
	}
	// Strava reports the absolute expiry alongside expires_in; prefer it when
	// present to avoid clock drift from response latency.
	if v, ok := tok.Extra("expires_at").(float64); ok && v > 0 {
		grant.ExpiresAt = int64(v)
	}
	return grant
}

func wrapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &domain.ExchangeError{StatusCode: status, Body: retrieveErr.Body}
	}
	return fmt.Errorf("token endpoint: %w", err)
}
