package domain

import (
	"context"
	"time"
)

// ArchivedActivity is the denormalized projection stored for users who enabled
// the archive preference. Rows are insert-only and keyed by (user, activity).
type ArchivedActivity struct {
	UserID     int64
	ActivityID int64
	Name       string
	Distance   float64
	StartDate  time.Time
}

// CredentialRepository captures the persistence operations the service needs.
type CredentialRepository interface {
	// UpsertCredential writes the token triple for a user, last-write-wins.
	// Preference flags on an existing row are preserved.
	UpsertCredential(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt int64) error
	// GetCredential returns ErrCredentialAbsent when the user never authenticated.
	GetCredential(ctx context.Context, userID int64) (*Credential, error)
	SetPreferences(ctx context.Context, userID int64, prefs Preferences) error
	// InsertArchivedActivity is conflict-safe: re-inserting an existing
	// (user, activity) pair is a no-op.
	InsertArchivedActivity(ctx context.Context, row ArchivedActivity) error
}
