package goGuard

import (
	"context"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/csrf"
	"go.uber.org/zap"
)

// IssueCSRFToken creates a single-use token bound to the optional user and session.
func (e *Engine) IssueCSRFToken(ctx context.Context, userID, sessionID string) (csrf.Token, error) {
	if e == nil || e.closed.Load() {
		return csrf.Token{}, internalError(ErrEngineNotReady)
	}
	tok, err := e.csrf.Issue(ctx, userID, sessionID, e.config.CSRF.TokenTTL)
	if err != nil {
		return csrf.Token{}, storageError(err)
	}
	e.metricInc(MetricCSRFIssued)
	return tok, nil
}

// ValidateCSRFToken consumes token. Any failure, including a store error, rejects the
// request with a KindSecurity error and records a csrf_violation entry.
func (e *Engine) ValidateCSRFToken(ctx context.Context, token, userID, sessionID string) error {
	if e == nil || e.closed.Load() {
		return internalError(ErrEngineNotReady)
	}
	ok, err := e.csrf.Consume(ctx, token, userID, sessionID)
	if err != nil {
		e.logger.Warn("csrf validation store failure", zap.Error(err))
	}
	if ok {
		e.metricInc(MetricCSRFValidated)
		return nil
	}

	e.metricInc(MetricCSRFRejected)
	e.Audit(ctx, audit.Input{
		Type:      audit.CSRFViolation,
		UserID:    userID,
		SessionID: sessionID,
		Resource:  "csrf",
		Action:    "validate",
		Details:   map[string]any{"token_present": token != ""},
	})
	cause := ErrCSRFInvalid
	if err != nil {
		cause = err
	}
	return securityError(CodeCSRFInvalid, "Invalid CSRF token", cause)
}
