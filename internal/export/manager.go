// Package export runs background bulk fetches of an athlete's activity
// history.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runnershigh/stravasync/internal/domain"
	"github.com/runnershigh/stravasync/internal/strava"
)

// ActivityLister is the provider-client slice the manager needs.
type ActivityLister interface {
	ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]strava.Activity, error)
}

// TokenRefresher yields a valid credential before the fetch starts.
type TokenRefresher interface {
	EnsureValid(ctx context.Context, userID int64) (*domain.Credential, error)
}

// ObjectStore persists export results.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Status is the poll view of one user's export job. The map behind it is
// process local and non-persistent; a restart loses in-flight status.
type Status struct {
	InProgress     bool       `json:"in_progress"`
	Done           bool       `json:"done"`
	ResultLocation string     `json:"result_location,omitempty"`
	ActivityCount  int        `json:"activity_count"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Run is one exported activity: runs with a route polyline, as the downstream
// ranking tooling consumes them.
type Run struct {
	Name     string `json:"name"`
	Link     string `json:"link"`
	Polyline string `json:"polyline"`
}

// Manager owns the per-user job map and the worker goroutines. It is created
// at startup and shut down with the server; there are no package-level
// singletons.
type Manager struct {
	refresher TokenRefresher
	lister    ActivityLister
	store     ObjectStore
	budget    time.Duration
	pageSize  int
	logger    *log.Logger

	mu   sync.Mutex
	jobs map[int64]*job

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type job struct {
	status Status
	cancel context.CancelFunc
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger used to report job outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBudget bounds the wall-clock time spent paging through the listing.
func WithBudget(budget time.Duration) Option {
	return func(m *Manager) {
		m.budget = budget
	}
}

// WithPageSize sets the provider page size for the listing loop.
func WithPageSize(size int) Option {
	return func(m *Manager) {
		m.pageSize = size
	}
}

// NewManager constructs a Manager ready to accept jobs.
func NewManager(refresher TokenRefresher, lister ActivityLister, store ObjectStore, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		refresher: refresher,
		lister:    lister,
		store:     store,
		budget:    28 * time.Second,
		pageSize:  100,
		logger:    log.New(log.Writer(), "[export] ", log.LstdFlags),
		jobs:      make(map[int64]*job),
		rootCtx:   ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches a background export for the user. A second start while one
// is running returns domain.ErrExportInProgress; a finished job may be
// restarted and overwrites the previous status.
func (m *Manager) Start(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[userID]; ok && existing.status.InProgress {
		return domain.ErrExportInProgress
	}

	ctx, cancel := context.WithCancel(m.rootCtx)
	m.jobs[userID] = &job{
		status: Status{InProgress: true, StartedAt: time.Now().UTC()},
		cancel: cancel,
	}
	recordStarted()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(ctx, userID)
	}()
	return nil
}

// Status returns the poll view for a user.
func (m *Manager) Status(userID int64) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[userID]
	if !ok {
		return Status{}, domain.ErrExportNotFound
	}
	return j.status, nil
}

// Result streams back the stored export for a finished job.
func (m *Manager) Result(ctx context.Context, userID int64) ([]byte, error) {
	m.mu.Lock()
	j, ok := m.jobs[userID]
	var location string
	done := ok && j.status.Done
	if done {
		location = j.status.ResultLocation
	}
	m.mu.Unlock()

	if !done {
		return nil, domain.ErrExportNotFound
	}
	return m.store.Get(ctx, location)
}

// Shutdown cancels running jobs and waits for the workers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, userID int64) {
	start := time.Now()

	cred, err := m.refresher.EnsureValid(ctx, userID)
	if err != nil {
		m.fail(userID, fmt.Errorf("credential: %w", err))
		return
	}

	runs := make([]Run, 0)
	fetched := 0
	// Page until the provider runs dry or the wall-clock budget is spent.
	// The budget is a voluntary yield, not a hard cancel: the loop checks it
	// between pages.
	for page := 1; time.Since(start) < m.budget; page++ {
		if ctx.Err() != nil {
			m.fail(userID, ctx.Err())
			return
		}

		activities, err := m.lister.ListActivities(ctx, cred.AccessToken, page, m.pageSize)
		if err != nil {
			m.fail(userID, err)
			return
		}
		if len(activities) == 0 {
			break
		}
		fetched += len(activities)

		for _, activity := range activities {
			if activity.Type != "Run" || activity.Map.SummaryPolyline == "" {
				continue
			}
			runs = append(runs, Run{
				Name:     activity.Name,
				Link:     fmt.Sprintf("https://www.strava.com/activities/%d", activity.ID),
				Polyline: activity.Map.SummaryPolyline,
			})
		}
	}

	payload, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		m.fail(userID, err)
		return
	}

	key := fmt.Sprintf("exports/%d/%s.json", userID, uuid.NewString())
	if err := m.store.Put(ctx, key, payload); err != nil {
		m.fail(userID, fmt.Errorf("store result: %w", err))
		return
	}

	now := time.Now().UTC()
	m.mu.Lock()
	if j, ok := m.jobs[userID]; ok {
		j.status = Status{
			Done:           true,
			ResultLocation: key,
			ActivityCount:  len(runs),
			StartedAt:      j.status.StartedAt,
			FinishedAt:     &now,
		}
	}
	m.mu.Unlock()

	recordCompleted(time.Since(start))
	m.logger.Printf("export finished (user=%d runs=%d fetched=%d elapsed=%s)", userID, len(runs), fetched, time.Since(start).Round(time.Millisecond))
}

func (m *Manager) fail(userID int64, err error) {
	now := time.Now().UTC()
	m.mu.Lock()
	if j, ok := m.jobs[userID]; ok {
		j.status.InProgress = false
		j.status.Error = err.Error()
		j.status.FinishedAt = &now
	}
	m.mu.Unlock()

	recordFailed()
	m.logger.Printf("export failed (user=%d): %v", userID, err)
}
