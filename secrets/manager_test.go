package secrets

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	secrets []Secret
	lists   int
	fail    error
}

func (s *fakeStore) ListSecrets(context.Context) ([]Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.fail != nil {
		return nil, s.fail
	}
	return slices.Clone(s.secrets), nil
}

func (s *fakeStore) InsertSecret(_ context.Context, sec Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for _, existing := range s.secrets {
		if existing.ID == sec.ID {
			return nil
		}
	}
	s.secrets = append(s.secrets, sec)
	return nil
}

func (s *fakeStore) DeactivateSecrets(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.secrets {
		if slices.Contains(ids, s.secrets[i].ID) {
			s.secrets[i].Active = false
		}
	}
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, store *fakeStore, bootstrap string) (*Manager, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Bootstrap = []byte(bootstrap)
	m, err := New(store, cfg, WithClock(clk.Now))
	require.NoError(t, err)
	return m, clk
}

const bootstrap = "k9P2vQ7xL4mR8sT1wY6zB3nC5dF0gH2j"

func TestInitSeedsBootstrapOnce(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(t, store, bootstrap)
	require.NoError(t, m.Init(context.Background()))

	primary, err := m.PrimarySecret()
	require.NoError(t, err)
	require.Equal(t, []byte(bootstrap), primary.Material)

	// A second instance with the same bootstrap value inserts the same id.
	m2, _ := newTestManager(t, store, bootstrap)
	require.NoError(t, m2.Init(context.Background()))
	require.Len(t, store.secrets, 1)

	p2, err := m2.PrimarySecret()
	require.NoError(t, err)
	require.Equal(t, primary.ID, p2.ID)
}

func TestInitWithoutSecretsFails(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{}, "")
	err := m.Init(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSecret)

	_, err = m.PrimarySecret()
	require.Error(t, err)
}

func TestInitStoreFailure(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{fail: errors.New("down")}, bootstrap)
	require.ErrorIs(t, m.Init(context.Background()), ErrStoreUnavailable)
}

func TestRotateIsNoopWhenNotDue(t *testing.T) {
	store := &fakeStore{}
	m, clk := newTestManager(t, store, bootstrap)
	require.NoError(t, m.Init(context.Background()))

	clk.Advance(24 * time.Hour)
	res, err := m.Rotate(context.Background())
	require.NoError(t, err)
	require.False(t, res.Changed())
	require.Len(t, m.ActiveSecrets(), 1)
}

func TestRotateByAgeAndCap(t *testing.T) {
	store := &fakeStore{}
	m, clk := newTestManager(t, store, bootstrap)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	first, _ := m.PrimarySecret()

	var ids []string
	for i := 0; i < 3; i++ {
		clk.Advance(30 * 24 * time.Hour)
		res, err := m.Rotate(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, res.CreatedID)
		ids = append(ids, res.CreatedID)
	}

	active := m.ActiveSecrets()
	require.Len(t, active, 3)
	require.Equal(t, ids[2], active[0].ID, "newest first")
	_, ok := m.Lookup(first.ID)
	require.False(t, ok, "bootstrap secret evicted by age or cap")
}

func TestRotateDeactivatesExpired(t *testing.T) {
	store := &fakeStore{}
	m, clk := newTestManager(t, store, bootstrap)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	first, _ := m.PrimarySecret()

	clk.Advance(91 * 24 * time.Hour)
	res, err := m.Rotate(ctx)
	require.NoError(t, err)
	require.Contains(t, res.Deactivated, first.ID)
	require.NotEmpty(t, res.CreatedID)

	primary, err := m.PrimarySecret()
	require.NoError(t, err)
	require.Equal(t, res.CreatedID, primary.ID)
}

func TestForceRotate(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(t, store, bootstrap)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	res, err := m.ForceRotate(ctx, "incident")
	require.NoError(t, err)
	require.NotEmpty(t, res.CreatedID)
	require.Len(t, m.ActiveSecrets(), 2)

	sec, ok := m.Lookup(res.CreatedID)
	require.True(t, ok)
	require.Equal(t, "incident", sec.Description)
}

func TestReloadIfStaleThrottles(t *testing.T) {
	store := &fakeStore{}
	m, clk := newTestManager(t, store, bootstrap)
	require.NoError(t, m.Init(context.Background()))
	before := store.lists

	require.False(t, m.ReloadIfStale(context.Background()))
	require.Equal(t, before, store.lists)

	clk.Advance(31 * time.Second)
	require.True(t, m.ReloadIfStale(context.Background()))
	require.Equal(t, before+1, store.lists)
}

func TestInitRecoversWhenBootstrapExpired(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()
	first, clk := newTestManager(t, store, bootstrap)
	require.NoError(t, first.Init(ctx))
	expired, _ := first.PrimarySecret()

	// The whole fleet was down for longer than the secret lifetime.
	clk.Advance(91 * 24 * time.Hour)
	restart := func() *Manager {
		cfg := DefaultConfig()
		cfg.Bootstrap = []byte(bootstrap)
		m, err := New(store, cfg, WithClock(clk.Now))
		require.NoError(t, err)
		require.NoError(t, m.Init(ctx))
		return m
	}

	a := restart()
	primary, err := a.PrimarySecret()
	require.NoError(t, err)
	require.NotEqual(t, expired.ID, primary.ID)
	require.Equal(t, []byte(bootstrap), primary.Material)

	b := restart()
	p2, err := b.PrimarySecret()
	require.NoError(t, err)
	require.Equal(t, primary.ID, p2.ID, "instances restarting together share the recovered row")
	require.Len(t, store.secrets, 2)
}

func TestRotatedSecretIsStagedBeforeSigning(t *testing.T) {
	store := &fakeStore{}
	m, clk := newTestManager(t, store, bootstrap)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	clk.Advance(time.Minute)
	old, _ := m.PrimarySecret()

	res, err := m.ForceRotate(ctx, "incident")
	require.NoError(t, err)

	primary, err := m.PrimarySecret()
	require.NoError(t, err)
	require.Equal(t, old.ID, primary.ID)
	_, ok := m.Lookup(res.CreatedID)
	require.True(t, ok, "a staged secret already verifies")
	require.Equal(t, res.CreatedID, m.ActiveSecrets()[0].ID)

	clk.Advance(30 * time.Second)
	primary, err = m.PrimarySecret()
	require.NoError(t, err)
	require.Equal(t, res.CreatedID, primary.ID)
}

type lockingStore struct {
	*fakeStore
	lock  sync.Mutex
	locks int
}

func (s *lockingStore) WithRotationLock(ctx context.Context, fn func(context.Context) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.locks++
	return fn(ctx)
}

func TestConcurrentRotationKeepsCap(t *testing.T) {
	store := &lockingStore{fakeStore: &fakeStore{}}
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Bootstrap = []byte(bootstrap)
	ctx := context.Background()

	managers := make([]*Manager, 4)
	for i := range managers {
		m, err := New(store, cfg, WithClock(clk.Now))
		require.NoError(t, err)
		require.NoError(t, m.Init(ctx))
		managers[i] = m
	}

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ForceRotate(ctx, "")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	active := 0
	for _, s := range store.secrets {
		if s.Active {
			active++
		}
	}
	require.Equal(t, cfg.MaxActive, active)
	require.Equal(t, 4, store.locks)
}
