package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/secrets"
	"go.uber.org/zap"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Rotation          secrets.RotationResult `json:"rotation"`
	CountersDeleted   int64                  `json:"countersDeleted"`
	CSRFTokensDeleted int64                  `json:"csrfTokensDeleted"`
	AuditDeleted      int64                  `json:"auditDeleted"`
	Duration          time.Duration          `json:"duration"`
}

// Maintain runs one pass: secret reload and rotation, expired counter and CSRF token
// sweeps, then audit retention. Every step runs even when an earlier one fails; the
// returned error joins the individual failures.
func (e *Engine) Maintain(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	if e == nil || e.closed.Load() {
		return report, ErrEngineNotReady
	}
	start := e.now()
	var errs []error

	if err := e.secrets.Reload(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reload secrets: %w", err))
	} else {
		e.metricInc(MetricSecretReload)
	}
	rotation, err := e.RotateSecrets(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.Rotation = rotation

	if n, err := e.limiter.Sweep(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweep counters: %w", err))
	} else {
		report.CountersDeleted = n
	}
	if n, err := e.csrf.Sweep(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweep csrf tokens: %w", err))
	} else {
		report.CSRFTokensDeleted = n
	}
	if n, err := e.audit.Cleanup(ctx, e.config.Audit.RetentionDays); err != nil {
		errs = append(errs, fmt.Errorf("audit retention: %w", err))
	} else {
		report.AuditDeleted = n
	}

	report.Duration = e.now().Sub(start)
	if err := errors.Join(errs...); err != nil {
		e.metricInc(MetricMaintenanceFailure)
		e.logger.Error("maintenance pass failed", zap.Error(err))
		return report, err
	}
	e.logger.Debug("maintenance pass complete",
		zap.Int64("counters_deleted", report.CountersDeleted),
		zap.Int64("csrf_deleted", report.CSRFTokensDeleted),
		zap.Int64("audit_deleted", report.AuditDeleted),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// RotateSecrets creates a new primary secret when the newest one is older than the
// rotation interval and retires secrets beyond the active cap.
func (e *Engine) RotateSecrets(ctx context.Context) (secrets.RotationResult, error) {
	if e == nil || e.closed.Load() {
		return secrets.RotationResult{}, ErrEngineNotReady
	}
	res, err := e.secrets.Rotate(ctx)
	e.afterRotation(ctx, res, false)
	if err != nil {
		return res, fmt.Errorf("rotate secrets: %w", err)
	}
	return res, nil
}

// ForceRotateSecrets creates a new primary secret regardless of age.
func (e *Engine) ForceRotateSecrets(ctx context.Context, description string) (secrets.RotationResult, error) {
	if e == nil || e.closed.Load() {
		return secrets.RotationResult{}, ErrEngineNotReady
	}
	res, err := e.secrets.ForceRotate(ctx, description)
	e.afterRotation(ctx, res, true)
	if err != nil {
		return res, fmt.Errorf("force rotate secrets: %w", err)
	}
	return res, nil
}

func (e *Engine) afterRotation(ctx context.Context, res secrets.RotationResult, forced bool) {
	if !res.Changed() {
		return
	}
	e.metricInc(MetricSecretRotation)
	e.Audit(ctx, audit.Input{
		Type:        audit.SecretRotated,
		Resource:    "signing_secret",
		Action:      "rotate",
		AdminAction: forced,
		Details: map[string]any{
			"created_id":  res.CreatedID,
			"deactivated": res.Deactivated,
			"forced":      forced,
		},
	})
}

// StartMaintenance runs Maintain every Maintenance.Interval until ctx is done or the
// returned stop function is called. Each pass is bounded by Maintenance.Timeout.
// Calling it again replaces the previous loop.
func (e *Engine) StartMaintenance(ctx context.Context) (stop func()) {
	if e == nil || e.closed.Load() {
		return func() {}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.config.Maintenance.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				passCtx, passCancel := context.WithTimeout(loopCtx, e.config.Maintenance.Timeout)
				_, _ = e.Maintain(passCtx)
				passCancel()
			}
		}
	}()

	stop = func() {
		cancel()
		<-done
	}

	e.maintenanceMu.Lock()
	prev := e.stopMaintenance
	e.stopMaintenance = stop
	e.maintenanceMu.Unlock()
	if prev != nil {
		prev()
	}
	return stop
}
