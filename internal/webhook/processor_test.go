package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnershigh/stravasync/internal/domain"
)

type stubRefresher struct {
	cred  *domain.Credential
	err   error
	calls int
}

func (s *stubRefresher) EnsureValid(_ context.Context, _ int64) (*domain.Credential, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.cred, nil
}

type stubAction struct {
	name    string
	enabled bool
	err     error

	mu        sync.Mutex
	executed  []int64
	seenToken string
}

func (s *stubAction) Name() string { return s.name }

func (s *stubAction) Enabled(_ domain.Preferences) bool { return s.enabled }

func (s *stubAction) Execute(_ context.Context, cred *domain.Credential, activityID int64) error {
	s.mu.Lock()
	s.executed = append(s.executed, activityID)
	s.seenToken = cred.AccessToken
	s.mu.Unlock()
	return s.err
}

func createEvent(owner, object int64) domain.ActivityEvent {
	return domain.ActivityEvent{
		ObjectType: domain.ObjectTypeActivity,
		ObjectID:   object,
		AspectType: domain.AspectCreate,
		OwnerID:    owner,
	}
}

func TestProcessRunsEnabledActions(t *testing.T) {
	refresher := &stubRefresher{cred: &domain.Credential{
		UserID:      7,
		AccessToken: "token",
		Preferences: domain.Preferences{Annotate: true, Archive: true},
	}}
	first := &stubAction{name: "annotate", enabled: true}
	second := &stubAction{name: "archive", enabled: true}
	p := NewProcessor(refresher, []Action{first, second})

	p.Process(context.Background(), createEvent(7, 42))

	require.Equal(t, []int64{42}, first.executed)
	require.Equal(t, []int64{42}, second.executed)
}

func TestProcessActionsReceiveRefreshedCredential(t *testing.T) {
	// The refresher hands back rotated tokens; actions must call the provider
	// with the new access token, never the stale stored one.
	refresher := &stubRefresher{cred: &domain.Credential{UserID: 7, AccessToken: "A2"}}
	action := &stubAction{name: "annotate", enabled: true}
	p := NewProcessor(refresher, []Action{action})

	p.Process(context.Background(), createEvent(7, 42))

	require.Equal(t, "A2", action.seenToken)
}

func TestProcessSkipsDisabledActions(t *testing.T) {
	refresher := &stubRefresher{cred: &domain.Credential{UserID: 7}}
	enabled := &stubAction{name: "annotate", enabled: true}
	disabled := &stubAction{name: "archive", enabled: false}
	p := NewProcessor(refresher, []Action{enabled, disabled})

	p.Process(context.Background(), createEvent(7, 42))

	require.Len(t, enabled.executed, 1)
	require.Empty(t, disabled.executed)
}

func TestProcessActionFailureDoesNotBlockOthers(t *testing.T) {
	refresher := &stubRefresher{cred: &domain.Credential{UserID: 7}}
	failing := &stubAction{name: "annotate", enabled: true, err: errors.New("provider 500")}
	healthy := &stubAction{name: "archive", enabled: true}
	p := NewProcessor(refresher, []Action{failing, healthy})

	p.Process(context.Background(), createEvent(7, 42))

	require.Len(t, healthy.executed, 1, "a failed action must not stop the next one")
}

func TestProcessFiltersNonCreateEvents(t *testing.T) {
	refresher := &stubRefresher{cred: &domain.Credential{UserID: 7}}
	action := &stubAction{name: "annotate", enabled: true}
	p := NewProcessor(refresher, []Action{action})

	update := createEvent(7, 42)
	update.AspectType = "update"
	p.Process(context.Background(), update)

	athlete := createEvent(7, 42)
	athlete.ObjectType = "athlete"
	p.Process(context.Background(), athlete)

	require.Zero(t, refresher.calls)
	require.Empty(t, action.executed)
}

func TestProcessSuppressesDuplicateDeliveries(t *testing.T) {
	refresher := &stubRefresher{cred: &domain.Credential{UserID: 7}}
	action := &stubAction{name: "annotate", enabled: true}
	p := NewProcessor(refresher, []Action{action})

	p.Process(context.Background(), createEvent(7, 42))
	p.Process(context.Background(), createEvent(7, 42))

	require.Len(t, action.executed, 1)
	require.Equal(t, 1, refresher.calls)
}

func TestProcessDistinctEventsAreNotDeduped(t *testing.T) {
	refresher := &stubRefresher{cred: &domain.Credential{UserID: 7}}
	action := &stubAction{name: "annotate", enabled: true}
	p := NewProcessor(refresher, []Action{action})

	p.Process(context.Background(), createEvent(7, 42))
	p.Process(context.Background(), createEvent(7, 43))

	require.Equal(t, []int64{42, 43}, action.executed)
}

func TestProcessMissingCredentialSkipsQuietly(t *testing.T) {
	refresher := &stubRefresher{err: domain.ErrCredentialAbsent}
	action := &stubAction{name: "annotate", enabled: true}
	p := NewProcessor(refresher, []Action{action})

	p.Process(context.Background(), createEvent(7, 42))

	require.Empty(t, action.executed)
}

func TestProcessRefreshFailureSkipsActions(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("token endpoint 500")}
	action := &stubAction{name: "annotate", enabled: true}
	p := NewProcessor(refresher, []Action{action})

	p.Process(context.Background(), createEvent(7, 42))

	require.Empty(t, action.executed)
}

func TestDispatchAndDrain(t *testing.T) {
	refresher := &stubRefresher{cred: &domain.Credential{UserID: 7}}
	action := &stubAction{name: "annotate", enabled: true}
	p := NewProcessor(refresher, []Action{action})

	p.Dispatch(createEvent(7, 42))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))

	action.mu.Lock()
	defer action.mu.Unlock()
	require.Equal(t, []int64{42}, action.executed)
}

func TestVerifyToken(t *testing.T) {
	require.True(t, VerifyToken("my_secure_token", "my_secure_token"))
	require.False(t, VerifyToken("my_secure_token", "guess"))
	require.False(t, VerifyToken("my_secure_token", ""))
}

func TestSeenCacheExpiry(t *testing.T) {
	cache := newSeenCache(time.Minute)
	now := time.Now()

	require.False(t, cache.observe("a", now))
	require.True(t, cache.observe("a", now.Add(30*time.Second)))
	require.False(t, cache.observe("a", now.Add(2*time.Minute)), "expired keys process again")
}
