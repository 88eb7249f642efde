// Package webhook validates and processes provider push notifications.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/runnershigh/stravasync/internal/domain"
)

// TokenRefresher yields a valid credential for a user or reports why it can't.
type TokenRefresher interface {
	EnsureValid(ctx context.Context, userID int64) (*domain.Credential, error)
}

// Action is one side effect dispatched for a freshly created activity.
// Actions are independent: a failure in one never blocks the others.
type Action interface {
	Name() string
	Enabled(prefs domain.Preferences) bool
	Execute(ctx context.Context, cred *domain.Credential, activityID int64) error
}

// VerifyToken is the subscription-challenge predicate. The comparison is
// constant time so the check leaks nothing about the configured secret.
func VerifyToken(secret, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(candidate)) == 1
}

// Processor interprets webhook deliveries and runs the enabled actions with a
// freshly validated credential. Failures never reach the provider-facing
// acknowledgment; the delivery contract is acknowledge fast, process
// best-effort.
type Processor struct {
	refresher TokenRefresher
	actions   []Action
	seen      *seenCache
	timeout   time.Duration
	logger    *log.Logger
	wg        sync.WaitGroup
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithTimeout bounds the processing time of one asynchronous delivery.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		p.timeout = timeout
	}
}

// WithDedupeWindow sets how long a delivery key suppresses redeliveries.
func WithDedupeWindow(window time.Duration) Option {
	return func(p *Processor) {
		p.seen = newSeenCache(window)
	}
}

// NewProcessor constructs a Processor over the given actions.
func NewProcessor(refresher TokenRefresher, actions []Action, opts ...Option) *Processor {
	p := &Processor{
		refresher: refresher,
		actions:   actions,
		seen:      newSeenCache(5 * time.Minute),
		timeout:   25 * time.Second,
		logger:    log.New(log.Writer(), "[webhook] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch hands the event to a background worker so the HTTP handler can
// acknowledge within the provider's delivery timeout regardless of how slow
// the downstream calls are.
func (p *Processor) Dispatch(event domain.ActivityEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		p.Process(ctx, event)
	}()
}

// Drain waits for in-flight deliveries to finish or the context to expire.
func (p *Processor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process runs the full pipeline for one delivery: filter, dedupe, credential
// lookup, refresh, then each enabled action in order.
func (p *Processor) Process(ctx context.Context, event domain.ActivityEvent) {
	if !event.IsActivityCreate() {
		recordSkipped(reasonFiltered)
		return
	}

	key := fmt.Sprintf("%d:%d:%s", event.OwnerID, event.ObjectID, event.AspectType)
	if p.seen.observe(key, time.Now()) {
		p.logger.Printf("duplicate delivery suppressed (owner=%d activity=%d)", event.OwnerID, event.ObjectID)
		recordSkipped(reasonDuplicate)
		return
	}

	cred, err := p.refresher.EnsureValid(ctx, event.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialAbsent) {
			// User never authenticated or revoked; not an error the
			// provider needs to know about.
			recordSkipped(reasonNoCredential)
			return
		}
		p.logger.Printf("refresh failed (owner=%d): %v", event.OwnerID, err)
		recordSkipped(reasonRefreshFailed)
		return
	}

	for _, action := range p.actions {
		if !action.Enabled(cred.Preferences) {
			continue
		}
		if err := action.Execute(ctx, cred, event.ObjectID); err != nil {
			p.logger.Printf("action %s failed (owner=%d activity=%d): %v", action.Name(), event.OwnerID, event.ObjectID, err)
			recordActionFailure(action.Name())
			continue
		}
		recordActionRun(action.Name())
	}

	recordProcessed()
}

// seenCache is a TTL set of recently observed delivery keys. It is process
// local: after a restart a redelivery runs again, which the actions tolerate
// by being idempotent.
type seenCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

func newSeenCache(ttl time.Duration) *seenCache {
	return &seenCache{entries: make(map[string]time.Time), ttl: ttl}
}

// observe records the key and reports whether it was already present within
// the TTL window.
func (c *seenCache) observe(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, k)
		}
	}

	if _, ok := c.entries[key]; ok {
		return true
	}
	c.entries[key] = now.Add(c.ttl)
	return false
}
