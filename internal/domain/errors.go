package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialAbsent means no stored token exists for the referenced user.
	// Callers treat it as a benign no-op, not a failure.
	ErrCredentialAbsent = errors.New("no credential stored for user")
	// ErrExportInProgress is returned when a bulk export is requested for a
	// user whose previous export has not finished.
	ErrExportInProgress = errors.New("export already in progress")
	// ErrExportNotFound is returned when export status or results are requested
	// for a user with no recorded job.
	ErrExportNotFound = errors.New("no export recorded for user")
)

// ExchangeError is returned when the provider token endpoint answers with a
// non-success status. It is terminal for the current operation; the consent
// flow must be restarted (code exchange) or the event skipped (refresh).
type ExchangeError struct {
	StatusCode int
	Body       []byte
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
}
