package audit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidRetention is returned by Cleanup for retention periods below one day.
var ErrInvalidRetention = errors.New("audit retention must be >= 1 day")

// Entry is one persisted audit row. RiskScore, Severity and Tags are computed once by
// Record and never change.
type Entry struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"eventType"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"userId,omitempty"`
	TenantID  string         `json:"tenantId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	IP        string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RiskScore int            `json:"riskScore"`
	Tags      []string       `json:"tags"`
	Timestamp time.Time      `json:"timestamp"`
}

// Input is what a caller knows about an event. The boolean flags are merged into
// Details before scoring.
type Input struct {
	Type      EventType
	UserID    string
	TenantID  string
	SessionID string
	IP        string
	UserAgent string
	RequestID string
	Resource  string
	Action    string
	Details   map[string]any

	RepeatedFailures bool
	AdminAction      bool
	SensitiveData    bool
	ExternalAccess   bool
}

// Store persists audit entries. QueryAuditEntries receives a normalized filter and
// returns the page plus the total number of matches.
type Store interface {
	InsertAuditEntry(ctx context.Context, entry Entry) error
	QueryAuditEntries(ctx context.Context, filter Filter) ([]Entry, int, error)
	SummarizeAudit(ctx context.Context, since time.Time, topN int) (Summary, error)
	DeleteAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls write behavior.
type Config struct {
	// WriteTimeout bounds each store write. The write is detached from the caller's
	// cancellation.
	WriteTimeout time.Duration
	Async        DispatchConfig
}

// DefaultConfig returns synchronous writes with a 5s timeout.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
		Async: DispatchConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the fallback channel for write failures and high-risk alerts.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWriteErrorHook is called after every failed store write.
func WithWriteErrorHook(hook func(error)) Option {
	return func(r *Recorder) {
		r.onWriteError = hook
	}
}

// Recorder scores and persists audit entries.
type Recorder struct {
	store        Store
	config       Config
	now          func() time.Time
	logger       *zap.Logger
	onWriteError func(error)
	dispatcher   *Dispatcher
	failures     atomic.Uint64
}

// New returns a Recorder writing to store. With cfg.Async.Enabled writes go through a
// buffered Dispatcher; call Close to drain it.
func New(store Store, cfg Config, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store required")
	}
	if cfg.WriteTimeout <= 0 {
		return nil, errors.New("audit WriteTimeout must be > 0")
	}
	r := &Recorder{
		store:  store,
		config: cfg,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.dispatcher = NewDispatcher(cfg.Async, r.write)
	return r, nil
}

// Record builds, scores and stores one entry. It never fails the caller: unknown event
// types are dropped with a warning and store errors are logged. The returned entry is
// nil only for unknown types.
func (r *Recorder) Record(ctx context.Context, in Input) *Entry {
	if !Known(in.Type) {
		r.logger.Warn("audit event type unknown, dropped", zap.String("event_type", string(in.Type)))
		return nil
	}

	details := mergeFlags(in)
	score := Score(in.Type, details)
	entry := Entry{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Severity:  SeverityFor(score),
		UserID:    in.UserID,
		TenantID:  in.TenantID,
		SessionID: in.SessionID,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		RequestID: in.RequestID,
		Resource:  in.Resource,
		Action:    in.Action,
		Details:   details,
		RiskScore: score,
		Tags:      Tags(in.Type, details),
		Timestamp: r.now().UTC(),
	}

	if r.dispatcher != nil {
		r.dispatcher.Emit(ctx, entry)
	} else {
		r.write(ctx, entry)
	}
	r.alert(entry)
	return &entry
}

func (r *Recorder) write(ctx context.Context, entry Entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.WriteTimeout)
	defer cancel()

	if err := r.store.InsertAuditEntry(wctx, entry); err != nil {
		r.failures.Add(1)
		r.logger.Error("audit write failed",
			zap.Error(err),
			zap.String("entry_id", entry.ID),
			zap.String("event_type", string(entry.Type)),
			zap.String("severity", string(entry.Severity)),
			zap.String("user_id", entry.UserID),
		)
		if r.onWriteError != nil {
			r.onWriteError(err)
		}
	}
}

func (r *Recorder) alert(entry Entry) {
	if entry.Severity != SeverityHigh && entry.Severity != SeverityCritical {
		return
	}
	fields := []zap.Field{
		zap.String("entry_id", entry.ID),
		zap.String("event_type", string(entry.Type)),
		zap.String("severity", string(entry.Severity)),
		zap.Int("risk_score", entry.RiskScore),
		zap.String("user_id", entry.UserID),
		zap.String("tenant_id", entry.TenantID),
		zap.String("ip", entry.IP),
		zap.String("resource", entry.Resource),
		zap.Strings("tags", entry.Tags),
	}
	if entry.Severity == SeverityCritical {
		r.logger.Error("critical security event", fields...)
		return
	}
	r.logger.Warn("high risk security event", fields...)
}

// Query returns one page of entries matching f, newest first.
func (r *Recorder) Query(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()
	entries, total, err := r.store.QueryAuditEntries(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("query audit entries: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{
		Entries: entries,
		Total:   total,
		HasMore: f.Offset+len(entries) < total,
	}, nil
}

// SecurityMetrics aggregates entries recorded within tf.
func (r *Recorder) SecurityMetrics(ctx context.Context, tf Timeframe) (Summary, error) {
	d, err := tf.Duration()
	if err != nil {
		return Summary{}, err
	}
	since := r.now().UTC().Add(-d)
	summary, err := r.store.SummarizeAudit(ctx, since, summaryTopN)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize audit entries: %w", err)
	}
	summary.Timeframe = tf
	summary.Since = since
	return summary, nil
}

// Cleanup deletes entries older than retentionDays and returns the number removed.
func (r *Recorder) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, ErrInvalidRetention
	}
	cutoff := r.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := r.store.DeleteAuditEntriesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	if n > 0 {
		r.logger.Info("audit retention sweep", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// WriteFailures returns the number of failed store writes.
func (r *Recorder) WriteFailures() uint64 {
	return r.failures.Load()
}

// Dropped returns the number of entries dropped by a full async buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dispatcher.Dropped()
}

// Close drains pending async writes.
func (r *Recorder) Close() {
	r.dispatcher.Close()
}

func mergeFlags(in Input) map[string]any {
	details := make(map[string]any, len(in.Details)+4)
	maps.Copy(details, in.Details)
	set := func(name string, on bool) {
		if on {
			details[name] = true
		}
	}
	set(FlagRepeatedFailures, in.RepeatedFailures)
	set(FlagAdminAction, in.AdminAction)
	set(FlagSensitiveData, in.SensitiveData)
	set(FlagExternalAccess, in.ExternalAccess)
	if len(details) == 0 {
		return nil
	}
	return details
}
