package goGuard

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGuard/audit"
)

// Audit records one security event. Missing IP, user agent and request id are filled
// from ctx. It never fails the caller; the entry is nil when the event type is unknown.
func (e *Engine) Audit(ctx context.Context, in audit.Input) *audit.Entry {
	if e == nil || e.audit == nil {
		return nil
	}
	if in.IP == "" {
		in.IP = clientIPFromContext(ctx)
	}
	if in.UserAgent == "" {
		in.UserAgent = userAgentFromContext(ctx)
	}
	if in.RequestID == "" {
		in.RequestID = requestIDFromContext(ctx)
	}
	return e.audit.Record(ctx, in)
}

// QueryAudit returns one page of entries, newest first.
func (e *Engine) QueryAudit(ctx context.Context, f audit.Filter) (audit.Page, error) {
	if e == nil || e.closed.Load() {
		return audit.Page{}, internalError(ErrEngineNotReady)
	}
	page, err := e.audit.Query(ctx, f)
	if err != nil {
		return audit.Page{}, storageError(err)
	}
	return page, nil
}

// SecurityMetrics aggregates the audit trail over tf.
func (e *Engine) SecurityMetrics(ctx context.Context, tf audit.Timeframe) (audit.Summary, error) {
	if e == nil || e.closed.Load() {
		return audit.Summary{}, internalError(ErrEngineNotReady)
	}
	summary, err := e.audit.SecurityMetrics(ctx, tf)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidTimeframe) {
			return audit.Summary{}, validationError(CodeValidationFailed, "Invalid timeframe", nil, err)
		}
		return audit.Summary{}, storageError(err)
	}
	return summary, nil
}

// CleanupAudit removes entries older than retentionDays. Zero uses the configured
// retention.
func (e *Engine) CleanupAudit(ctx context.Context, retentionDays int) (int64, error) {
	if e == nil || e.closed.Load() {
		return 0, internalError(ErrEngineNotReady)
	}
	if retentionDays == 0 {
		retentionDays = e.config.Audit.RetentionDays
	}
	n, err := e.audit.Cleanup(ctx, retentionDays)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidRetention) {
			return 0, validationError(CodeValidationFailed, "Retention must be at least one day", nil, err)
		}
		return 0, storageError(err)
	}
	return n, nil
}
