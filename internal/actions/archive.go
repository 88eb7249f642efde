package actions

import (
	"context"
	"fmt"

	"github.com/runnershigh/stravasync/internal/domain"
)

// ArchiveWriter is the persistence slice the archive action needs.
type ArchiveWriter interface {
	InsertArchivedActivity(ctx context.Context, row domain.ArchivedActivity) error
}

// Archive projects activity metadata into the user_activities table. The
// insert is conflict-do-nothing, so the action is idempotent.
type Archive struct {
	client ActivityClient
	writer ArchiveWriter
}

// NewArchive constructs the action.
func NewArchive(client ActivityClient, writer ArchiveWriter) *Archive {
	return &Archive{client: client, writer: writer}
}

// Name identifies the action in logs and metrics.
func (a *Archive) Name() string { return "archive" }

// Enabled reports whether the user opted in.
func (a *Archive) Enabled(prefs domain.Preferences) bool { return prefs.Archive }

// Execute fetches the activity detail and records the projection row.
func (a *Archive) Execute(ctx context.Context, cred *domain.Credential, activityID int64) error {
	activity, err := a.client.GetActivity(ctx, cred.AccessToken, activityID)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	row := domain.ArchivedActivity{
		UserID:     cred.UserID,
		ActivityID: activityID,
		Name:       activity.Name,
		Distance:   activity.Distance,
		StartDate:  activity.StartDate,
	}
	if err := a.writer.InsertArchivedActivity(ctx, row); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}
