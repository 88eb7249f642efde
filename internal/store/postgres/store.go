// Package postgres provides pgx-backed persistence for credentials and
// archived activities.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runnershigh/stravasync/internal/domain"
)

// Store implements domain.CredentialRepository on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the two tables if they do not exist. The service owns
// its schema; there is no migration framework.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const users = `CREATE TABLE IF NOT EXISTS users (
        user_id BIGINT PRIMARY KEY,
        access_token TEXT NOT NULL,
        refresh_token TEXT NOT NULL,
        expires_at BIGINT NOT NULL,
        annotate_activities BOOLEAN NOT NULL DEFAULT FALSE,
        archive_activities BOOLEAN NOT NULL DEFAULT FALSE
    )`

	const activities = `CREATE TABLE IF NOT EXISTS user_activities (
        user_id BIGINT NOT NULL,
        activity_id BIGINT NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        distance DOUBLE PRECISION NOT NULL DEFAULT 0,
        start_date TIMESTAMPTZ,
        PRIMARY KEY (user_id, activity_id)
    )`

	for _, stmt := range []string{users, activities} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertCredential writes the token triple for a user. The statement is a
// single atomic upsert, last-write-wins; preference flags on an existing row
// are left untouched.
func (s *Store) UpsertCredential(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt int64) error {
	const stmt = `INSERT INTO users (user_id, access_token, refresh_token, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE
        SET access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at`

	if _, err := s.pool.Exec(ctx, stmt, userID, accessToken, refreshToken, expiresAt); err != nil {
		return fmt.Errorf("upsert credential for user %d: %w", userID, err)
	}
	return nil
}

// GetCredential returns the stored credential or domain.ErrCredentialAbsent.
func (s *Store) GetCredential(ctx context.Context, userID int64) (*domain.Credential, error) {
	const query = `SELECT user_id, access_token, refresh_token, expires_at, annotate_activities, archive_activities
        FROM users WHERE user_id = $1`

	var cred domain.Credential
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&cred.UserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.ExpiresAt,
		&cred.Preferences.Annotate,
		&cred.Preferences.Archive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialAbsent
		}
		return nil, fmt.Errorf("get credential for user %d: %w", userID, err)
	}
	return &cred, nil
}

// SetPreferences updates the action flags for an authenticated user.
func (s *Store) SetPreferences(ctx context.Context, userID int64, prefs domain.Preferences) error {
	const stmt = `UPDATE users SET annotate_activities = $2, archive_activities = $3 WHERE user_id = $1`

	tag, err := s.pool.Exec(ctx, stmt, userID, prefs.Annotate, prefs.Archive)
	if err != nil {
		return fmt.Errorf("set preferences for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialAbsent
	}
	return nil
}

// InsertArchivedActivity records the activity projection. Duplicate
// notifications for the same (user, activity) pair are silently absorbed.
func (s *Store) InsertArchivedActivity(ctx context.Context, row domain.ArchivedActivity) error {
	const stmt = `INSERT INTO user_activities (user_id, activity_id, name, distance, start_date)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, stmt, row.UserID, row.ActivityID, row.Name, row.Distance, row.StartDate); err != nil {
		return fmt.Errorf("archive activity %d for user %d: %w", row.ActivityID, row.UserID, err)
	}
	return nil
}
