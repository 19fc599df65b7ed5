package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/secrets"
	"github.com/stretchr/testify/require"
)

func TestInsertSecretIgnoresDuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	sec := secrets.Secret{ID: "a", Material: []byte("one"), Active: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.InsertSecret(ctx, sec))
	sec.Material = []byte("two")
	require.NoError(t, s.InsertSecret(ctx, sec))

	list, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, []byte("one"), list[0].Material)

	require.NoError(t, s.DeactivateSecrets(ctx, []string{"a"}))
	list, _ = s.ListSecrets(ctx)
	require.False(t, list[0].Active)
}

func TestLoadSubject(t *testing.T) {
	s := New()
	s.PutSubject(goGuard.Subject{UserID: "u-1", TenantID: "t-1", Role: goGuard.RoleAdmin, Active: true, TenantActive: true})

	sub, err := s.LoadSubject(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, goGuard.RoleAdmin, sub.Role)

	_, err = s.LoadSubject(context.Background(), "missing")
	require.ErrorIs(t, err, goGuard.ErrSubjectNotFound)
}

func TestAuditQueryPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertAuditEntry(ctx, audit.Entry{
			ID:        string(rune('a' + i)),
			Type:      audit.LoginFailed,
			Severity:  audit.SeverityLow,
			IP:        "10.0.0.1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, total, err := s.QueryAuditEntries(ctx, audit.Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, entries, 2)
	require.Equal(t, "d", entries[0].ID)
	require.Equal(t, "c", entries[1].ID)

	entries, total, err = s.QueryAuditEntries(ctx, audit.Filter{Limit: 10, Offset: 10})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, entries)

	n, err := s.DeleteAuditEntriesBefore(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Len(t, s.AuditEntries(), 3)
}

func TestPasswordHistoryNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	for _, h := range []string{"h1", "h2", "h3"} {
		require.NoError(t, s.AppendPasswordHistory(ctx, "u-1", h, now))
	}
	got, err := s.PasswordHistory(ctx, "u-1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"h3", "h2"}, got)
}

func TestSetFailure(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.SetFailure(boom)

	_, _, err := s.HitCounter(context.Background(), "k", 1, time.Minute, time.Now())
	require.ErrorIs(t, err, boom)

	s.SetFailure(nil)
	count, _, err := s.HitCounter(context.Background(), "k", 1, time.Minute, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestHitCounterConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	const calls = 64
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.HitCounter(ctx, "api:user:u-1", 1000, time.Minute, now)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	count, _, err := s.HitCounter(ctx, "api:user:u-1", 1000, time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, calls+1, count)
}

func TestHitCounterSaturatesAndResets(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, _, _ = s.HitCounter(ctx, "k", 2, time.Minute, now)
	}
	count, _, err := s.HitCounter(ctx, "k", 2, time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, 3, count, "rejected hits stop at limit+1")

	count, exp, err := s.HitCounter(ctx, "k", 2, time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, now.Add(2*time.Minute), exp)
}
