package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoActiveSecret is returned when no active, unexpired secret exists.
	ErrNoActiveSecret = errors.New("no active signing secret")
	// ErrNotInitialized is returned when the manager is used before Init.
	ErrNotInitialized = errors.New("secret manager not initialized")
	// ErrStoreUnavailable wraps failures of the backing store.
	ErrStoreUnavailable = errors.New("secret store unavailable")
)

// bootstrapNamespace derives stable ids for env-seeded secrets so that concurrently
// starting instances insert the same row.
var bootstrapNamespace = uuid.MustParse("6f1c2f0e-4d7b-4b8e-9a51-3f0c1d2e7a90")

// Secret is one signing secret. Material is opaque and never logged.
type Secret struct {
	ID          string
	Material    []byte
	Active      bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Description string
}

// Usable reports whether s is active and not expired at now.
func (s Secret) Usable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Store persists secrets. InsertSecret must ignore an insert whose ID already exists.
type Store interface {
	ListSecrets(ctx context.Context) ([]Secret, error)
	InsertSecret(ctx context.Context, secret Secret) error
	DeactivateSecrets(ctx context.Context, ids []string) error
}

// Locker is implemented by stores shared between instances. Rotation passes run inside
// WithRotationLock, one at a time across every instance, so each pass sees the secrets
// the previous one wrote.
type Locker interface {
	WithRotationLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config controls rotation cadence and the active-set cap.
type Config struct {
	RotationInterval time.Duration
	SecretLifetime   time.Duration
	MaxActive        int
	// ReloadInterval throttles store reloads on unknown key ids. A rotated secret is
	// only promoted to primary once it is ReloadInterval old, so every instance can
	// learn it before the first token signed with it arrives.
	ReloadInterval time.Duration
	SecretSize       int
	Bootstrap        []byte
}

// DefaultConfig returns the production defaults: rotate every 30 days, keep at most
// three active secrets, expire secrets after 90 days.
func DefaultConfig() Config {
	return Config{
		RotationInterval: 30 * 24 * time.Hour,
		SecretLifetime:   90 * 24 * time.Hour,
		MaxActive:        3,
		ReloadInterval:   30 * time.Second,
		SecretSize:       64,
	}
}

func (c Config) validate() error {
	if c.RotationInterval <= 0 {
		return errors.New("secrets RotationInterval must be > 0")
	}
	if c.SecretLifetime <= 0 {
		return errors.New("secrets SecretLifetime must be > 0")
	}
	if c.MaxActive < 1 {
		return errors.New("secrets MaxActive must be >= 1")
	}
	if c.SecretSize < 32 {
		return errors.New("secrets SecretSize must be >= 32")
	}
	if c.ReloadInterval < 0 {
		return errors.New("secrets ReloadInterval must be >= 0")
	}
	return nil
}

// RotationResult describes what a rotation pass changed.
type RotationResult struct {
	CreatedID   string   `json:"createdId,omitempty"`
	Deactivated []string `json:"deactivated,omitempty"`
}

// Changed reports whether the pass created or deactivated anything.
func (r RotationResult) Changed() bool {
	return r.CreatedID != "" || len(r.Deactivated) > 0
}

type snapshot struct {
	active []Secret
	byID   map[string]Secret
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

// WithLogger sets the logger used for rotation events.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager holds the current secret set. Reads are lock-free; rotation and reload
// swap the snapshot atomically.
type Manager struct {
	store  Store
	config Config
	now    func() time.Time
	logger *zap.Logger

	current    atomic.Pointer[snapshot]
	lastReload atomic.Int64
	rotateMu   sync.Mutex
	initOnce   sync.Once
	initErr    error
}

// New allocates a Manager. It performs no I/O; call Init before use.
func New(store Store, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("secret store required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		store:  store,
		config: cfg,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Init loads the secret set exactly once. When the store holds no usable secret the
// configured bootstrap secret is persisted as the first primary.
func (m *Manager) Init(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.init(ctx)
	})
	return m.initErr
}

func (m *Manager) init(ctx context.Context) error {
	if err := m.Reload(ctx); err != nil {
		return err
	}
	if _, err := m.PrimarySecret(); err == nil {
		return nil
	}
	if len(m.config.Bootstrap) == 0 {
		return ErrNoActiveSecret
	}

	all, err := m.store.ListSecrets(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := m.now()
	id, err := m.bootstrapID(all, now)
	if err != nil {
		return err
	}
	seed := Secret{
		ID:          id,
		Material:    append([]byte(nil), m.config.Bootstrap...),
		Active:      true,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.config.SecretLifetime),
		Description: "bootstrap secret from environment",
	}
	if err := m.store.InsertSecret(ctx, seed); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.logger.Info("bootstrap signing secret seeded", zap.String("secret_id", seed.ID))

	if err := m.Reload(ctx); err != nil {
		return err
	}
	if _, err := m.PrimarySecret(); err != nil {
		return err
	}
	return nil
}

// bootstrapID returns the first id in the bootstrap sequence that is not already taken by
// an unusable row. The sequence is derived from the bootstrap material alone, so
// instances restarting together after every secret expired converge on the same row.
func (m *Manager) bootstrapID(existing []Secret, now time.Time) (string, error) {
	byID := make(map[string]Secret, len(existing))
	for _, s := range existing {
		byID[s.ID] = s
	}
	for generation := 0; generation <= len(existing); generation++ {
		name := m.config.Bootstrap
		if generation > 0 {
			name = fmt.Appendf(append([]byte(nil), m.config.Bootstrap...), "#%d", generation)
		}
		id := uuid.NewSHA1(bootstrapNamespace, name).String()
		prev, taken := byID[id]
		if !taken || prev.Usable(now) {
			return id, nil
		}
	}
	return "", ErrNoActiveSecret
}

// Reload replaces the in-memory snapshot with the store's current view.
func (m *Manager) Reload(ctx context.Context) error {
	all, err := m.store.ListSecrets(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.current.Store(buildSnapshot(all))
	m.lastReload.Store(m.now().UnixNano())
	return nil
}

// ReloadIfStale reloads when the last reload is older than the reload interval.
// It reports whether a reload happened.
func (m *Manager) ReloadIfStale(ctx context.Context) bool {
	last := time.Unix(0, m.lastReload.Load())
	if m.now().Sub(last) < m.config.ReloadInterval {
		return false
	}
	if err := m.Reload(ctx); err != nil {
		m.logger.Warn("signing secret reload failed", zap.Error(err))
		return false
	}
	return true
}

func buildSnapshot(all []Secret) *snapshot {
	snap := &snapshot{byID: make(map[string]Secret, len(all))}
	for _, s := range all {
		if !s.Active {
			continue
		}
		snap.active = append(snap.active, s)
		snap.byID[s.ID] = s
	}
	sortNewestFirst(snap.active)
	return snap
}

func sortNewestFirst(list []Secret) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// PrimarySecret returns the newest usable secret that is at least ReloadInterval old.
// Younger secrets verify but do not sign, unless no other usable secret exists.
func (m *Manager) PrimarySecret() (Secret, error) {
	snap := m.current.Load()
	if snap == nil {
		return Secret{}, ErrNotInitialized
	}
	now := m.now()
	var (
		staged Secret
		found  bool
	)
	for _, s := range snap.active {
		if !s.Usable(now) {
			continue
		}
		if !now.Before(s.CreatedAt.Add(m.config.ReloadInterval)) {
			return s, nil
		}
		if !found {
			staged, found = s, true
		}
	}
	if found {
		return staged, nil
	}
	return Secret{}, ErrNoActiveSecret
}

// ActiveSecrets returns every active, unexpired secret, newest first.
func (m *Manager) ActiveSecrets() []Secret {
	snap := m.current.Load()
	if snap == nil {
		return nil
	}
	now := m.now()
	out := make([]Secret, 0, len(snap.active))
	for _, s := range snap.active {
		if s.Usable(now) {
			out = append(out, s)
		}
	}
	return out
}

// Lookup returns the active, unexpired secret with the given id.
func (m *Manager) Lookup(id string) (Secret, bool) {
	snap := m.current.Load()
	if snap == nil {
		return Secret{}, false
	}
	s, ok := snap.byID[id]
	if !ok || !s.Usable(m.now()) {
		return Secret{}, false
	}
	return s, true
}

// Rotate runs one maintenance pass. A new secret is created when no usable secret
// exists or the primary is older than the rotation interval; expired secrets are
// deactivated and the oldest secrets beyond MaxActive are evicted. Rotate is a no-op
// when nothing is due.
func (m *Manager) Rotate(ctx context.Context) (RotationResult, error) {
	return m.rotate(ctx, false, "scheduled rotation")
}

// ForceRotate creates a new primary secret regardless of the current primary's age.
func (m *Manager) ForceRotate(ctx context.Context, description string) (RotationResult, error) {
	if description == "" {
		description = "manual rotation"
	}
	return m.rotate(ctx, true, description)
}

func (m *Manager) rotate(ctx context.Context, force bool, description string) (RotationResult, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	locker, ok := m.store.(Locker)
	if !ok {
		return m.rotateLocked(ctx, force, description)
	}
	var (
		result RotationResult
		inner  error
	)
	err := locker.WithRotationLock(ctx, func(ctx context.Context) error {
		result, inner = m.rotateLocked(ctx, force, description)
		return inner
	})
	if inner != nil {
		return result, inner
	}
	if err != nil {
		return result, fmt.Errorf("%w: rotation lock: %v", ErrStoreUnavailable, err)
	}
	return result, nil
}

func (m *Manager) rotateLocked(ctx context.Context, force bool, description string) (RotationResult, error) {
	all, err := m.store.ListSecrets(ctx)
	if err != nil {
		return RotationResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := m.now()
	var (
		result RotationResult
		live   []Secret
	)
	for _, s := range all {
		if !s.Active {
			continue
		}
		if !now.Before(s.ExpiresAt) {
			result.Deactivated = append(result.Deactivated, s.ID)
			continue
		}
		live = append(live, s)
	}
	sortNewestFirst(live)

	due := force || len(live) == 0 || now.Sub(live[0].CreatedAt) >= m.config.RotationInterval
	if due {
		fresh, err := m.generate(now, description)
		if err != nil {
			return RotationResult{}, err
		}
		if err := m.store.InsertSecret(ctx, fresh); err != nil {
			return RotationResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		result.CreatedID = fresh.ID
		live = append([]Secret{fresh}, live...)
	}

	if len(live) > m.config.MaxActive {
		for _, s := range live[m.config.MaxActive:] {
			result.Deactivated = append(result.Deactivated, s.ID)
		}
	}

	if len(result.Deactivated) > 0 {
		if err := m.store.DeactivateSecrets(ctx, result.Deactivated); err != nil {
			return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if !result.Changed() {
		return result, nil
	}

	m.logger.Info("signing secrets rotated",
		zap.String("created_id", result.CreatedID),
		zap.Strings("deactivated", result.Deactivated),
	)

	if err := m.Reload(ctx); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Manager) generate(now time.Time, description string) (Secret, error) {
	material, err := internal.RandomBytes(m.config.SecretSize)
	if err != nil {
		return Secret{}, fmt.Errorf("generate secret: %w", err)
	}
	return Secret{
		ID:          uuid.NewString(),
		Material:    material,
		Active:      true,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.config.SecretLifetime),
		Description: description,
	}, nil
}
