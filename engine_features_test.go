package goGuard_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFIssueAndValidate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := goGuard.WithClientIP(context.Background(), "192.0.2.44")

	tok, err := h.engine.IssueCSRFToken(ctx, "u-user", "s-1")
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), tok.ExpiresAt)

	require.NoError(t, h.engine.ValidateCSRFToken(ctx, tok.Value, "u-user", "s-1"))

	err = h.engine.ValidateCSRFToken(ctx, tok.Value, "u-user", "s-1")
	require.Error(t, err)
	gerr := goGuard.AsError(err)
	assert.Equal(t, goGuard.KindSecurity, gerr.Kind)
	assert.Equal(t, http.StatusForbidden, gerr.StatusCode)
	assert.ErrorIs(t, err, goGuard.ErrCSRFInvalid)

	entries := h.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.CSRFViolation, entries[0].Type)
	assert.Equal(t, "192.0.2.44", entries[0].IP)
	assert.Equal(t, "s-1", entries[0].SessionID)
}

func TestCSRFFailsClosedOnStoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	tok, err := h.engine.IssueCSRFToken(context.Background(), "", "")
	require.NoError(t, err)

	h.store.SetFailure(errors.New("down"))
	err = h.engine.ValidateCSRFToken(context.Background(), tok.Value, "", "")
	assert.Equal(t, goGuard.KindSecurity, goGuard.KindOf(err))

	_, err = h.engine.IssueCSRFToken(context.Background(), "", "")
	assert.Equal(t, goGuard.KindStorage, goGuard.KindOf(err))
}

func TestSetPasswordRecordsHistory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	encoded, err := h.engine.SetPassword(ctx, "u-user", "StrongP@ssw0rd123!", password.Hints{})
	require.NoError(t, err)

	ok, upgrade, err := h.engine.VerifyPassword("StrongP@ssw0rd123!", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, upgrade)

	_, err = h.engine.SetPassword(ctx, "u-user", "StrongP@ssw0rd123!", password.Hints{})
	require.Error(t, err)
	gerr := goGuard.AsError(err)
	assert.Equal(t, goGuard.CodePasswordPolicy, gerr.Code)
	assert.Equal(t, http.StatusBadRequest, gerr.StatusCode)
	assert.Contains(t, gerr.Details, "Password was used recently")

	// A different user may pick the same password.
	_, err = h.engine.SetPassword(ctx, "u-admin", "StrongP@ssw0rd123!", password.Hints{})
	require.NoError(t, err)

	assert.Equal(t, []audit.EventType{audit.PasswordChanged, audit.PasswordChanged}, h.auditTypes())
}

func TestValidatePasswordReportsAllViolations(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.ValidatePassword(context.Background(), "", "short", password.Hints{})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.GreaterOrEqual(t, len(res.Errors), 3)
	assert.EqualValues(t, 1, h.engine.MetricsSnapshot().Counters[goGuard.MetricPasswordRejected])
}

func TestValidatePasswordHistoryFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetFailure(errors.New("down"))
	_, err := h.engine.ValidatePassword(context.Background(), "u-user", "StrongP@ssw0rd123!", password.Hints{})
	assert.Equal(t, goGuard.KindStorage, goGuard.KindOf(err))
}

func TestGeneratePasswordPassesPolicy(t *testing.T) {
	h := newHarness(t, nil)
	pw, err := h.engine.GeneratePassword(20)
	require.NoError(t, err)
	assert.Len(t, pw, 20)

	res, err := h.engine.ValidatePassword(context.Background(), "", pw, password.Hints{})
	require.NoError(t, err)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
}

func TestPasswordNeedsRotation(t *testing.T) {
	h := newHarness(t, nil)
	now := h.clock.Now()
	assert.False(t, h.engine.PasswordNeedsRotation(now.Add(-89*24*time.Hour)))
	assert.True(t, h.engine.PasswordNeedsRotation(now.Add(-91*24*time.Hour)))
}

func TestMaintainRotatesAndSweeps(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	initial, err := h.engine.Secrets().PrimarySecret()
	require.NoError(t, err)

	_, err = h.engine.IssueCSRFToken(ctx, "", "")
	require.NoError(t, err)
	_, err = h.engine.CheckRateLimit(ctx, goGuard.LimitWebhook, goGuard.Request{ClientIP: "10.0.0.1"}, "")
	require.NoError(t, err)

	report, err := h.engine.Maintain(ctx)
	require.NoError(t, err)
	assert.False(t, report.Rotation.Changed())
	assert.Zero(t, report.CSRFTokensDeleted)

	h.clock.Advance(31 * 24 * time.Hour)
	report, err = h.engine.Maintain(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, report.Rotation.CreatedID)
	assert.EqualValues(t, 1, report.CountersDeleted)
	assert.EqualValues(t, 1, report.CSRFTokensDeleted)
	assert.Zero(t, report.AuditDeleted)

	primary, err := h.engine.Secrets().PrimarySecret()
	require.NoError(t, err)
	assert.Equal(t, initial.ID, primary.ID, "the new secret is staged before it signs")
	h.clock.Advance(30 * time.Second)
	primary, err = h.engine.Secrets().PrimarySecret()
	require.NoError(t, err)
	assert.Equal(t, report.Rotation.CreatedID, primary.ID)
	assert.Len(t, h.engine.Secrets().ActiveSecrets(), 2)
	_, stillActive := h.engine.Secrets().Lookup(initial.ID)
	assert.True(t, stillActive, "the previous secret keeps verifying until it expires")

	assert.Contains(t, h.auditTypes(), audit.SecretRotated)
	assert.EqualValues(t, 1, h.engine.MetricsSnapshot().Counters[goGuard.MetricSecretRotation])

	// New tokens carry the new primary and verify.
	res, err := h.engine.Authenticate(ctx, goGuard.Request{Authorization: h.bearer(t, jwt.Claims{UserID: "u-user"})}, nil)
	require.NoError(t, err)
	assert.Equal(t, "u-user", res.Subject.UserID)
}

func TestMaintainJoinsFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetFailure(errors.New("down"))

	_, err := h.engine.Maintain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reload secrets")
	assert.Contains(t, err.Error(), "sweep counters")
	assert.Contains(t, err.Error(), "audit retention")
	assert.EqualValues(t, 1, h.engine.MetricsSnapshot().Counters[goGuard.MetricMaintenanceFailure])
}

func TestForceRotateAuditsAdminAction(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.ForceRotateSecrets(context.Background(), "suspected leak")
	require.NoError(t, err)
	require.NotEmpty(t, res.CreatedID)

	entries := h.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.SecretRotated, entries[0].Type)
	assert.Equal(t, true, entries[0].Details[audit.FlagAdminAction])
}

func TestStartMaintenanceStops(t *testing.T) {
	h := newHarness(t, func(c *goGuard.Config) { c.Maintenance.Interval = time.Millisecond })
	stop := h.engine.StartMaintenance(context.Background())

	require.Eventually(t, func() bool {
		return h.engine.MetricsSnapshot().Counters[goGuard.MetricSecretReload] > 0
	}, time.Second, 5*time.Millisecond)
	stop()
	stop()
}

func TestSecurityMetricsAndCleanup(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.Audit(ctx, audit.Input{Type: audit.LoginFailed, IP: "10.9.9.9"})
	h.engine.Audit(ctx, audit.Input{Type: audit.LoginFailed, IP: "10.9.9.9"})

	sum, err := h.engine.SecurityMetrics(ctx, audit.LastHour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sum.FailedLogins)

	_, err = h.engine.SecurityMetrics(ctx, audit.Timeframe("1y"))
	assert.Equal(t, goGuard.KindValidation, goGuard.KindOf(err))

	h.clock.Advance(100 * 24 * time.Hour)
	n, err := h.engine.CleanupAudit(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = h.engine.CleanupAudit(ctx, -1)
	assert.Equal(t, goGuard.KindValidation, goGuard.KindOf(err))
}

func TestAuditFillsRequestContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx := goGuard.WithRequest(context.Background(), goGuard.Request{
		ClientIP: "198.51.100.1", UserAgent: "curl/8", RequestID: "req-7",
	})
	entry := h.engine.Audit(ctx, audit.Input{Type: audit.DataRead})
	require.NotNil(t, entry)
	assert.Equal(t, "198.51.100.1", entry.IP)
	assert.Equal(t, "curl/8", entry.UserAgent)
	assert.Equal(t, "req-7", entry.RequestID)
}
