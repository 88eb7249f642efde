// Package domain defines the core types for the Strava synchronization service.
package domain

import "time"

// Preferences holds the per-user flags controlling which side-effect actions run
// when a new activity arrives.
type Preferences struct {
	Annotate bool `json:"annotate"`
	Archive  bool `json:"archive"`
}

// Credential is the stored OAuth token record for one athlete. There is at most
// one Credential per user; re-authentication overwrites it.
type Credential struct {
	UserID       int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // epoch seconds
	Preferences  Preferences
}

// Expired reports whether the access token has passed its expiry at the given
// instant.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt <= now.Unix()
}

// TokenGrant is the result of a provider token exchange (authorization code or
// refresh token). AthleteID is only populated on the code-exchange path.
type TokenGrant struct {
	AthleteID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}
