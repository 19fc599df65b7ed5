package audit_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/store/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRecorder(t *testing.T, store audit.Store, cfg audit.Config, now *time.Time, opts ...audit.Option) *audit.Recorder {
	t.Helper()
	opts = append([]audit.Option{audit.WithClock(func() time.Time { return *now })}, opts...)
	r, err := audit.New(store, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRecordScoresAndPersists(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := memory.New()
	r := newRecorder(t, store, audit.DefaultConfig(), &now)

	entry := r.Record(context.Background(), audit.Input{
		Type:          audit.PrivilegeEscalationAttempt,
		UserID:        "u-1",
		TenantID:      "t-1",
		IP:            "198.51.100.4",
		Resource:      "users",
		Action:        "grant_admin",
		SensitiveData: true,
	})
	require.NotNil(t, entry)
	require.Equal(t, 10, entry.RiskScore)
	require.Equal(t, audit.SeverityCritical, entry.Severity)
	require.Equal(t, []string{"authorization", audit.FlagSensitiveData}, entry.Tags)
	require.Equal(t, true, entry.Details[audit.FlagSensitiveData])
	require.Equal(t, now, entry.Timestamp)
	require.NotEmpty(t, entry.ID)

	stored := store.AuditEntries()
	require.Len(t, stored, 1)
	require.Equal(t, entry.ID, stored[0].ID)
}

func TestRecordUnknownTypeDropped(t *testing.T) {
	now := time.Now()
	store := memory.New()
	r := newRecorder(t, store, audit.DefaultConfig(), &now)

	require.Nil(t, r.Record(context.Background(), audit.Input{Type: "made_up"}))
	require.Empty(t, store.AuditEntries())
}

func TestRecordAlertsOnHighRisk(t *testing.T) {
	now := time.Now()
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRecorder(t, memory.New(), audit.DefaultConfig(), &now, audit.WithLogger(zap.New(core)))
	ctx := context.Background()

	r.Record(ctx, audit.Input{Type: audit.LoginSuccess})
	r.Record(ctx, audit.Input{Type: audit.AccountLocked})
	r.Record(ctx, audit.Input{Type: audit.SuspiciousActivity})

	require.Equal(t, 1, logs.FilterMessage("high risk security event").Len())
	critical := logs.FilterMessage("critical security event").All()
	require.Len(t, critical, 1)
	require.Equal(t, zapcore.ErrorLevel, critical[0].Level)
}

func TestWriteFailureDoesNotFailCaller(t *testing.T) {
	now := time.Now()
	store := memory.New()
	store.SetFailure(errors.New("disk full"))

	var hooked atomic.Int32
	core, logs := observer.New(zapcore.ErrorLevel)
	r := newRecorder(t, store, audit.DefaultConfig(), &now,
		audit.WithLogger(zap.New(core)),
		audit.WithWriteErrorHook(func(error) { hooked.Add(1) }),
	)

	entry := r.Record(context.Background(), audit.Input{Type: audit.LoginFailed})
	require.NotNil(t, entry)
	require.EqualValues(t, 1, r.WriteFailures())
	require.EqualValues(t, 1, hooked.Load())
	require.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
}

func TestRecordSurvivesCanceledContext(t *testing.T) {
	now := time.Now()
	store := memory.New()
	r := newRecorder(t, store, audit.DefaultConfig(), &now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, audit.Input{Type: audit.Logout})
	require.Len(t, store.AuditEntries(), 1)
}

func TestAsyncRecorderDrainsOnClose(t *testing.T) {
	now := time.Now()
	store := memory.New()
	cfg := audit.DefaultConfig()
	cfg.Async = audit.DispatchConfig{Enabled: true, BufferSize: 64}
	r, err := audit.New(store, cfg, audit.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		r.Record(context.Background(), audit.Input{Type: audit.APIRequest})
	}
	r.Close()
	require.Len(t, store.AuditEntries(), 20)
	require.Zero(t, r.Dropped())
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	now := base
	store := memory.New()
	r := newRecorder(t, store, audit.DefaultConfig(), &now)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		now = base.Add(time.Duration(i) * time.Minute)
		r.Record(ctx, audit.Input{Type: audit.LoginFailed, UserID: "u-1", IP: "10.0.0.1"})
	}
	r.Record(ctx, audit.Input{Type: audit.CSRFViolation, UserID: "u-2"})

	page, err := r.Query(ctx, audit.Filter{UserID: "u-1", Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 7, page.Total)
	require.Len(t, page.Entries, 3)
	require.True(t, page.HasMore)
	require.True(t, page.Entries[0].Timestamp.After(page.Entries[1].Timestamp))

	page, err = r.Query(ctx, audit.Filter{UserID: "u-1", Offset: 6, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.False(t, page.HasMore)

	page, err = r.Query(ctx, audit.Filter{Tags: []string{"security"}})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, audit.CSRFViolation, page.Entries[0].Type)

	page, err = r.Query(ctx, audit.Filter{From: base.Add(2 * time.Minute), To: base.Add(4 * time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
}

func TestSecurityMetrics(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	r := newRecorder(t, store, audit.DefaultConfig(), &now)
	ctx := context.Background()

	old := now
	now = now.Add(-2 * time.Hour)
	r.Record(ctx, audit.Input{Type: audit.LoginFailed, IP: "10.0.0.9"})
	now = old

	for i := 0; i < 3; i++ {
		r.Record(ctx, audit.Input{Type: audit.LoginFailed, IP: "10.0.0.1"})
	}
	r.Record(ctx, audit.Input{Type: audit.SuspiciousActivity, IP: "10.0.0.2"})
	r.Record(ctx, audit.Input{Type: audit.AccountLocked, IP: "10.0.0.2"})

	sum, err := r.SecurityMetrics(ctx, audit.LastHour)
	require.NoError(t, err)
	require.EqualValues(t, 5, sum.Total)
	require.EqualValues(t, 1, sum.Critical)
	require.EqualValues(t, 1, sum.High)
	require.EqualValues(t, 3, sum.FailedLogins)
	require.EqualValues(t, 1, sum.SuspiciousActivity)
	require.Equal(t, audit.Count{Key: "login_failed", Count: 3}, sum.TopEventTypes[0])
	require.Equal(t, audit.Count{Key: "10.0.0.1", Count: 3}, sum.TopIPs[0])
	require.Equal(t, audit.LastHour, sum.Timeframe)

	sum, err = r.SecurityMetrics(ctx, audit.LastDay)
	require.NoError(t, err)
	require.EqualValues(t, 6, sum.Total)

	_, err = r.SecurityMetrics(ctx, audit.Timeframe("2h"))
	require.ErrorIs(t, err, audit.ErrInvalidTimeframe)
}

func TestCleanup(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	r := newRecorder(t, store, audit.DefaultConfig(), &now)
	ctx := context.Background()

	current := now
	for i := 0; i < 5; i++ {
		now = current.Add(-time.Duration(i*30) * 24 * time.Hour)
		r.Record(ctx, audit.Input{Type: audit.DataRead, Details: map[string]any{"age_days": fmt.Sprint(i * 30)}})
	}
	now = current

	n, err := r.Cleanup(ctx, 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "only the 120 day old entry is past retention")
	require.Len(t, store.AuditEntries(), 4)

	_, err = r.Cleanup(ctx, 0)
	require.ErrorIs(t, err, audit.ErrInvalidRetention)
}
