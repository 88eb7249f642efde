// Package actions holds the side effects dispatched for new activities.
package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/runnershigh/stravasync/internal/domain"
	"github.com/runnershigh/stravasync/internal/strava"
)

// DefaultMarker is the line appended to annotated activity descriptions.
const DefaultMarker = "Data managed by runnershigh.io"

// ActivityClient is the slice of the provider client the actions need.
type ActivityClient interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (*strava.Activity, error)
	UpdateDescription(ctx context.Context, accessToken string, activityID int64, description string) error
}

// Annotate appends a marker line to the activity description.
type Annotate struct {
	client ActivityClient
	marker string
	// checkBeforeAppend makes the action idempotent under webhook
	// redelivery: an activity already carrying the marker is left alone.
	checkBeforeAppend bool
}

// AnnotateConfig tunes the annotate action.
type AnnotateConfig struct {
	Marker string
	// AppendAlways restores the legacy behaviour of appending on every
	// delivery, duplicating the marker on redelivery.
	AppendAlways bool
}

// NewAnnotate constructs the action.
func NewAnnotate(client ActivityClient, cfg AnnotateConfig) *Annotate {
	marker := cfg.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	return &Annotate{
		client:            client,
		marker:            marker,
		checkBeforeAppend: !cfg.AppendAlways,
	}
}

// Name identifies the action in logs and metrics.
func (a *Annotate) Name() string { return "annotate" }

// Enabled reports whether the user opted in.
func (a *Annotate) Enabled(prefs domain.Preferences) bool { return prefs.Annotate }

// Execute fetches the activity and writes back an annotated description.
func (a *Annotate) Execute(ctx context.Context, cred *domain.Credential, activityID int64) error {
	activity, err := a.client.GetActivity(ctx, cred.AccessToken, activityID)
	if err != nil {
		return fmt.Errorf("annotate: %w", err)
	}

	if a.checkBeforeAppend && strings.Contains(activity.Description, a.marker) {
		return nil
	}

	description := a.marker
	if activity.Description != "" {
		description = activity.Description + "\n" + a.marker
	}

	if err := a.client.UpdateDescription(ctx, cred.AccessToken, activityID, description); err != nil {
		return fmt.Errorf("annotate: %w", err)
	}
	return nil
}
