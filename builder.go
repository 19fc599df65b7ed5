package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/secrets"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it once, then call Build.
type Builder struct {
	config    Config
	store     Store
	counters  CounterStore
	csrfStore CSRFStore
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the durable store for every component.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithCounterStore replaces the rate-limit counter store, e.g. with store/redis.
func (b *Builder) WithCounterStore(store CounterStore) *Builder {
	b.counters = store
	return b
}

// WithCSRFStore replaces the CSRF token store.
func (b *Builder) WithCSRFStore(store CSRFStore) *Builder {
	b.csrfStore = store
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithClock overrides the wall clock of every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads the signing secrets and wires every
// component. It fails when no usable signing secret exists after seeding, so an Engine
// never serves requests without one.
func (b *Builder) Build(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config:  cfg,
		logger:  b.logger,
		now:     b.now,
		store:   b.store,
		metrics: NewMetrics(cfg.Metrics),
		policy:  cfg.passwordPolicy(),
	}

	// -------- SECRETS --------
	secretManager, err := secrets.New(b.store, cfg.secretsConfig(),
		secrets.WithClock(b.now),
		secrets.WithLogger(b.logger.Named("secrets")),
	)
	if err != nil {
		return nil, err
	}
	if err := secretManager.Init(ctx); err != nil {
		return nil, fmt.Errorf("load signing secrets: %w", err)
	}
	e.secrets = secretManager

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(cfg.tokenConfig(), secretManager, jwt.WithClock(b.now))
	if err != nil {
		return nil, err
	}
	e.tokens = tokens

	// -------- AUDIT --------
	auditCfg := audit.DefaultConfig()
	auditCfg.WriteTimeout = cfg.Audit.WriteTimeout
	auditCfg.Async = audit.DispatchConfig{
		Enabled:    cfg.Audit.Async,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}
	recorder, err := audit.New(b.store, auditCfg,
		audit.WithClock(b.now),
		audit.WithLogger(b.logger.Named("audit")),
		audit.WithWriteErrorHook(func(error) { e.metricInc(MetricAuditWriteFailure) }),
	)
	if err != nil {
		return nil, err
	}
	e.audit = recorder

	// -------- RATE LIMIT --------
	counters := b.counters
	if counters == nil {
		counters = b.store
	}
	limiter, err := rate.New(counters, cfg.rateRules(),
		rate.WithClock(b.now),
		rate.WithFailureHook(e.onCounterFailure),
	)
	if err != nil {
		return nil, err
	}
	e.limiter = limiter

	// -------- CSRF --------
	csrfStore := b.csrfStore
	if csrfStore == nil {
		csrfStore = b.store
	}
	csrfManager, err := csrf.New(csrfStore,
		csrf.WithClock(b.now),
		csrf.WithDefaultTTL(cfg.CSRF.TokenTTL),
	)
	if err != nil {
		return nil, err
	}
	e.csrf = csrfManager

	// -------- PASSWORD --------
	hasher, err := password.NewArgon2(cfg.hashConfig())
	if err != nil {
		return nil, err
	}
	e.hasher = hasher

	b.built = true
	return e, nil
}
