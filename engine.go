package goGuard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/secrets"
	"go.uber.org/zap"
)

// Engine is the per-request checkpoint. It is safe for concurrent use once returned by
// Builder.Build.
type Engine struct {
	config  Config
	logger  *zap.Logger
	now     func() time.Time
	store   Store
	secrets *secrets.Manager
	tokens  *jwt.Manager
	limiter *rate.Limiter
	csrf    *csrf.Manager
	audit   *audit.Recorder
	hasher  *password.Argon2
	policy  password.Policy
	metrics *Metrics

	maintenanceMu   sync.Mutex
	stopMaintenance func()
	closed          atomic.Bool
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.config
}

// Secrets exposes the signing secret manager for administrative tooling.
func (e *Engine) Secrets() *secrets.Manager {
	return e.secrets
}

// IssueToken signs claims for purpose with the primary secret.
func (e *Engine) IssueToken(claims jwt.Claims, purpose jwt.Purpose) (string, time.Time, error) {
	if e == nil || e.closed.Load() {
		return "", time.Time{}, ErrEngineNotReady
	}
	token, exp, err := e.tokens.Issue(claims, purpose)
	if err != nil {
		return "", time.Time{}, err
	}
	e.metricInc(MetricTokenIssued)
	return token, exp, nil
}

// ErrorResponse renders err honoring the development-mode switch.
func (e *Engine) ErrorResponse(err error) ErrorResponse {
	return AsError(err).Response(e.config.Security.DevelopmentMode)
}

// Close stops background maintenance and drains pending audit writes.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.maintenanceMu.Lock()
	stop := e.stopMaintenance
	e.stopMaintenance = nil
	e.maintenanceMu.Unlock()
	if stop != nil {
		stop()
	}
	e.audit.Close()
}

// AuditDropped returns the number of audit entries dropped by a full async buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// ActiveSecretCount returns the number of signing secrets currently accepted for
// verification.
func (e *Engine) ActiveSecretCount() int {
	if e == nil || e.secrets == nil {
		return 0
	}
	return len(e.secrets.ActiveSecrets())
}
