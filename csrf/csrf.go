package csrf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/internal"
)

const (
	// DefaultTTL is used when Issue is called with a zero ttl.
	DefaultTTL = 30 * time.Minute
	// tokenBytes is the amount of randomness in one token.
	tokenBytes = 32
)

var (
	// ErrStoreUnavailable wraps store failures.
	ErrStoreUnavailable = errors.New("csrf store unavailable")
	// ErrInvalidTTL is returned for negative lifetimes.
	ErrInvalidTTL = errors.New("invalid csrf token ttl")
)

// Record is one persisted token.
type Record struct {
	TokenHash string
	UserID    string
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists token records.
//
// ConsumeCSRFToken must, in one atomic operation, delete the row with tokenHash when it
// is unexpired at now and, for each non-empty userID/sessionID argument, owned by that
// user/session. It reports whether a row was deleted. Non-matching rows are untouched.
type Store interface {
	InsertCSRFToken(ctx context.Context, rec Record) error
	ConsumeCSRFToken(ctx context.Context, tokenHash, userID, sessionID string, now time.Time) (bool, error)
	DeleteExpiredCSRFTokens(ctx context.Context, now time.Time) (int64, error)
}

// Token is the value handed to the client.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// Manager issues and consumes tokens against a Store.
type Manager struct {
	store      Store
	now        func() time.Time
	defaultTTL time.Duration
}

// New returns a Manager backed by store.
func New(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("csrf store required")
	}
	m := &Manager{store: store, now: time.Now, defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates a token bound to the optional userID and sessionID.
func (m *Manager) Issue(ctx context.Context, userID, sessionID string, ttl time.Duration) (Token, error) {
	if ttl < 0 {
		return Token{}, ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	value, err := internal.NewToken(tokenBytes)
	if err != nil {
		return Token{}, fmt.Errorf("generate csrf token: %w", err)
	}

	now := m.now()
	rec := Record{
		TokenHash: HashToken(value),
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.store.InsertCSRFToken(ctx, rec); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Token{Value: value, ExpiresAt: rec.ExpiresAt}, nil
}

// Consume deletes the token if it is valid for the given owner and reports whether it
// did. Empty owner arguments are not checked.
func (m *Manager) Consume(ctx context.Context, token, userID, sessionID string) (bool, error) {
	if token == "" {
		return false, nil
	}
	ok, err := m.store.ConsumeCSRFToken(ctx, HashToken(token), userID, sessionID, m.now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Validate is Consume with store errors treated as a failed validation.
func (m *Manager) Validate(ctx context.Context, token, userID, sessionID string) bool {
	ok, err := m.Consume(ctx, token, userID, sessionID)
	return err == nil && ok
}

// Sweep removes expired tokens.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredCSRFTokens(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(value string) string {
	return internal.Digest(value)
}
