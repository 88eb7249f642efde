package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnershigh/stravasync/internal/domain"
	"github.com/runnershigh/stravasync/internal/strava"
)

type stubRefresher struct {
	cred *domain.Credential
	err  error
}

func (s *stubRefresher) EnsureValid(_ context.Context, _ int64) (*domain.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cred, nil
}

type stubLister struct {
	pages [][]strava.Activity
	err   error

	mu    sync.Mutex
	calls int
}

func (s *stubLister) ListActivities(_ context.Context, _ string, page, _ int) ([]strava.Activity, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if page > len(s.pages) {
		return []strava.Activity{}, nil
	}
	return s.pages[page-1], nil
}

type memoryStore struct {
	mu   sync.Mutex
	blob map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blob: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blob[key]
	if !ok {
		return nil, domain.ErrExportNotFound
	}
	return data, nil
}

func validRefresher() *stubRefresher {
	return &stubRefresher{cred: &domain.Credential{UserID: 7, AccessToken: "token"}}
}

func waitForDone(t *testing.T, m *Manager, userID int64) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := m.Status(userID)
		require.NoError(t, err)
		if !status.InProgress {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("export did not finish in time")
	return Status{}
}

func TestExportFiltersRunsWithPolylines(t *testing.T) {
	lister := &stubLister{pages: [][]strava.Activity{
		{
			{ID: 1, Name: "Park run", Type: "Run", Map: strava.ActivityMap{SummaryPolyline: "abc"}},
			{ID: 2, Name: "Commute", Type: "Ride", Map: strava.ActivityMap{SummaryPolyline: "def"}},
			{ID: 3, Name: "Treadmill", Type: "Run"},
		},
		{
			{ID: 4, Name: "Long run", Type: "Run", Map: strava.ActivityMap{SummaryPolyline: "ghi"}},
		},
	}}
	store := newMemoryStore()
	m := NewManager(validRefresher(), lister, store)
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.Start(7))
	status := waitForDone(t, m, 7)

	require.True(t, status.Done)
	require.Empty(t, status.Error)
	require.Equal(t, 2, status.ActivityCount)
	require.NotNil(t, status.FinishedAt)

	data, err := m.Result(context.Background(), 7)
	require.NoError(t, err)

	var runs []Run
	require.NoError(t, json.Unmarshal(data, &runs))
	require.Len(t, runs, 2)
	require.Equal(t, "Park run", runs[0].Name)
	require.Equal(t, "https://www.strava.com/activities/1", runs[0].Link)
	require.Equal(t, "abc", runs[0].Polyline)
	require.Equal(t, "Long run", runs[1].Name)
}

func TestExportStopsOnEmptyPage(t *testing.T) {
	lister := &stubLister{pages: [][]strava.Activity{
		{{ID: 1, Type: "Run", Map: strava.ActivityMap{SummaryPolyline: "abc"}}},
	}}
	m := NewManager(validRefresher(), lister, newMemoryStore())
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.Start(7))
	waitForDone(t, m, 7)

	require.Equal(t, 2, lister.calls, "one data page plus the terminating empty page")
}

func TestExportSecondStartWhileRunningConflicts(t *testing.T) {
	block := make(chan struct{})
	lister := &stubLister{}
	refresher := &blockedRefresher{unblock: block}
	m := NewManager(refresher, lister, newMemoryStore())
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.Start(7))
	require.ErrorIs(t, m.Start(7), domain.ErrExportInProgress)

	close(block)
	waitForDone(t, m, 7)

	// A finished job may be restarted.
	require.NoError(t, m.Start(7))
	waitForDone(t, m, 7)
}

type blockedRefresher struct {
	unblock chan struct{}
	once    sync.Once
}

func (b *blockedRefresher) EnsureValid(_ context.Context, _ int64) (*domain.Credential, error) {
	b.once.Do(func() { <-b.unblock })
	return &domain.Credential{UserID: 7, AccessToken: "token"}, nil
}

func TestExportStatusUnknownUser(t *testing.T) {
	m := NewManager(validRefresher(), &stubLister{}, newMemoryStore())
	defer func() { _ = m.Shutdown(context.Background()) }()

	_, err := m.Status(99)
	require.ErrorIs(t, err, domain.ErrExportNotFound)
}

func TestExportResultBeforeCompletion(t *testing.T) {
	block := make(chan struct{})
	m := NewManager(&blockedRefresher{unblock: block}, &stubLister{}, newMemoryStore())
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.Start(7))
	_, err := m.Result(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrExportNotFound)

	close(block)
	waitForDone(t, m, 7)
}

func TestExportListFailureRecordsError(t *testing.T) {
	lister := &stubLister{err: errors.New("provider down")}
	m := NewManager(validRefresher(), lister, newMemoryStore())
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.Start(7))
	status := waitForDone(t, m, 7)

	require.False(t, status.Done)
	require.Contains(t, status.Error, "provider down")

	_, err := m.Result(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrExportNotFound)
}

func TestExportMissingCredentialRecordsError(t *testing.T) {
	m := NewManager(&stubRefresher{err: domain.ErrCredentialAbsent}, &stubLister{}, newMemoryStore())
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.Start(7))
	status := waitForDone(t, m, 7)

	require.False(t, status.Done)
	require.NotEmpty(t, status.Error)
}

func TestExportBudgetStopsPaging(t *testing.T) {
	// Every page returns data, so only the budget can end the loop.
	lister := &slowLister{}
	m := NewManager(validRefresher(), lister, newMemoryStore(),
		WithBudget(50*time.Millisecond), WithPageSize(1))
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.Start(7))
	status := waitForDone(t, m, 7)

	require.True(t, status.Done)
	require.Positive(t, status.ActivityCount)
}

type slowLister struct{}

func (s *slowLister) ListActivities(_ context.Context, _ string, page, _ int) ([]strava.Activity, error) {
	time.Sleep(10 * time.Millisecond)
	return []strava.Activity{{ID: int64(page), Type: "Run", Map: strava.ActivityMap{SummaryPolyline: "p"}}}, nil
}
