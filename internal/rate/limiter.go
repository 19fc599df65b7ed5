package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal"
)

// Class names a rate-limit policy applied to a category of endpoint.
type Class string

const (
	ClassAuth    Class = "auth"
	ClassAPI     Class = "api"
	ClassUpload  Class = "upload"
	ClassWebhook Class = "webhook"
)

// Rule is the ceiling and window length of one class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules returns auth 5/15m, api 100/15m, upload 10/15m and webhook 20/1m.
func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		ClassAuth:    {Limit: 5, Window: 15 * time.Minute},
		ClassAPI:     {Limit: 100, Window: 15 * time.Minute},
		ClassUpload:  {Limit: 10, Window: 15 * time.Minute},
		ClassWebhook: {Limit: 20, Window: time.Minute},
	}
}

// CounterStore persists fixed-window counters.
//
// HitCounter must atomically apply, for key:
//
//	absent or expires_at <= now  -> count = 1, expires_at = now + window
//	count > limit                -> unchanged
//	otherwise                    -> count = count + 1
//
// and return the resulting count and expiry.
type CounterStore interface {
	HitCounter(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (count int, expiresAt time.Time, err error)
	DeleteExpiredCounters(ctx context.Context, now time.Time) (int64, error)
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Class      Class
	Key        string
	Limit      int
	Count      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	// Degraded is set when the store failed and the request was allowed without counting.
	Degraded bool
}

// FailureHook observes store failures. It must not block.
type FailureHook func(ctx context.Context, class Class, key string, err error)

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithFailureHook registers a callback for fail-open events.
func WithFailureHook(hook FailureHook) Option {
	return func(l *Limiter) {
		l.onFailure = hook
	}
}

// Limiter enforces the static class table against a shared CounterStore.
type Limiter struct {
	store     CounterStore
	rules     map[Class]Rule
	now       func() time.Time
	onFailure FailureHook
}

// New validates rules and returns a Limiter backed by store.
func New(store CounterStore, rules map[Class]Rule, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate counter store required")
	}
	if len(rules) == 0 {
		return nil, errors.New("rate rules required")
	}
	table := make(map[Class]Rule, len(rules))
	for class, rule := range rules {
		if rule.Limit < 1 {
			return nil, fmt.Errorf("rate class %q: limit must be >= 1", class)
		}
		if rule.Window <= 0 {
			return nil, fmt.Errorf("rate class %q: window must be > 0", class)
		}
		table[class] = rule
	}
	l := &Limiter{store: store, rules: table, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Rule returns the configured rule for class.
func (l *Limiter) Rule(class Class) (Rule, bool) {
	r, ok := l.rules[class]
	return r, ok
}

// Check counts one request for identity under class. The only error is
// ErrUnknownClass; store failures produce an allowed, degraded Decision.
func (l *Limiter) Check(ctx context.Context, class Class, identity string) (Decision, error) {
	rule, ok := l.rules[class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	key := Key(class, identity)
	now := l.now()
	decision := Decision{Class: class, Key: key, Limit: rule.Limit}

	count, expiresAt, err := l.store.HitCounter(ctx, key, rule.Limit, rule.Window, now)
	if err != nil {
		if l.onFailure != nil {
			l.onFailure(ctx, class, key, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		}
		decision.Allowed = true
		decision.Degraded = true
		decision.Remaining = rule.Limit
		return decision, nil
	}

	decision.Count = count
	decision.ResetAt = expiresAt
	decision.Allowed = count <= rule.Limit
	if decision.Allowed {
		decision.Remaining = rule.Limit - count
	} else {
		decision.RetryAfter = expiresAt.Sub(now)
		if decision.RetryAfter < 0 {
			decision.RetryAfter = 0
		}
	}
	return decision, nil
}

// Sweep deletes counters whose window has expired.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpiredCounters(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Key builds the counter key for class and identity.
func Key(class Class, identity string) string {
	return string(class) + ":" + identity
}

// Identity picks the caller identity: a verified subject id, else a hash prefix of the
// raw bearer token, else the network address.
func Identity(subjectID, bearerToken, clientIP string) string {
	if subjectID = strings.TrimSpace(subjectID); subjectID != "" {
		return "user:" + subjectID
	}
	if bearerToken = strings.TrimSpace(bearerToken); bearerToken != "" {
		return "tok:" + internal.DigestPrefix(bearerToken, 8)
	}
	if clientIP = strings.TrimSpace(clientIP); clientIP != "" {
		return "ip:" + clientIP
	}
	return "ip:unknown"
}
