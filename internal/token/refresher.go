// Package token keeps stored credentials valid across time.
package token

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/runnershigh/stravasync/internal/domain"
)

// Exchanger performs the refresh-token exchange. Satisfied by *strava.OAuth.
type Exchanger interface {
	Refresh(ctx context.Context, cred *domain.Credential) (domain.TokenGrant, bool, error)
}

// Refresher loads a user's credential and guarantees it is valid before use.
// Concurrent callers for the same user share one refresh; refresh tokens
// rotate on every exchange, so two racing refreshes would invalidate each
// other's stored token.
type Refresher struct {
	store  domain.CredentialRepository
	oauth  Exchanger
	group  singleflight.Group
	logger *log.Logger
}

// Option configures optional behaviour for the Refresher.
type Option func(*Refresher)

// WithLogger overrides the logger used to report refreshes.
func WithLogger(logger *log.Logger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// NewRefresher constructs a Refresher.
func NewRefresher(store domain.CredentialRepository, oauth Exchanger, opts ...Option) *Refresher {
	r := &Refresher{
		store:  store,
		oauth:  oauth,
		logger: log.New(log.Writer(), "[token] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureValid returns a credential whose access token is safe to use. A fresh
// credential is returned without any network call. An expired one triggers a
// single refresh exchange; the rotated tokens are persisted before the
// credential is handed back. On refresh failure the stored row is untouched
// and the caller must skip dependent work.
func (r *Refresher) EnsureValid(ctx context.Context, userID int64) (*domain.Credential, error) {
	v, err, _ := r.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return r.ensureValid(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Credential), nil
}

func (r *Refresher) ensureValid(ctx context.Context, userID int64) (*domain.Credential, error) {
	cred, err := r.store.GetCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	grant, rotated, err := r.oauth.Refresh(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("refresh for user %d: %w", userID, err)
	}
	if !rotated {
		return cred, nil
	}

	// The old refresh token died the moment the exchange succeeded; the new
	// one must hit storage before anything else runs for this user.
	if err := r.store.UpsertCredential(ctx, userID, grant.AccessToken, grant.RefreshToken, grant.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persist rotated tokens for user %d: %w", userID, err)
	}
	r.logger.Printf("refreshed tokens for user %d (expires_at=%d)", userID, grant.ExpiresAt)

	cred.AccessToken = grant.AccessToken
	cred.RefreshToken = grant.RefreshToken
	cred.ExpiresAt = grant.ExpiresAt
	return cred, nil
}
