package goGuard

import (
	"context"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/internal/rate"
	"go.uber.org/zap"
)

// CheckRateLimit counts one request against class. The caller identity is subjectID
// when set, else a hash of the bearer token in req, else req.ClientIP. A rejection
// returns a KindRateLimit *Error whose RetryAfter is the time left in the window.
// Store failures allow the request.
func (e *Engine) CheckRateLimit(ctx context.Context, class LimitClass, req Request, subjectID string) (RateLimitDecision, error) {
	if e == nil || e.closed.Load() {
		return RateLimitDecision{}, internalError(ErrEngineNotReady)
	}
	if !e.config.RateLimit.Enabled {
		return RateLimitDecision{Allowed: true, Class: class}, nil
	}

	token, _ := BearerToken(req.Authorization)
	identity := rate.Identity(subjectID, token, req.ClientIP)

	d, err := e.limiter.Check(ctx, rate.Class(class), identity)
	if err != nil {
		return RateLimitDecision{}, validationError(CodeValidationFailed, "Unknown rate limit class", nil, err)
	}

	decision := RateLimitDecision{
		Allowed:    d.Allowed,
		Class:      class,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		RetryAfter: d.RetryAfter,
		ResetAt:    d.ResetAt,
		Degraded:   d.Degraded,
	}
	if !d.Allowed {
		e.metricInc(MetricRateLimitRejected)
		return decision, rateLimitError(d.RetryAfter)
	}
	e.metricInc(MetricRateLimitAllowed)
	return decision, nil
}

// onCounterFailure runs when the counter store fails and the limiter fails open.
func (e *Engine) onCounterFailure(ctx context.Context, class rate.Class, key string, err error) {
	e.metricInc(MetricRateLimitFailOpen)
	e.logger.Warn("rate limiter failing open",
		zap.String("class", string(class)),
		zap.Error(err),
	)
	e.Audit(ctx, audit.Input{
		Type:     audit.StorageFailure,
		Resource: "rate_limit",
		Action:   string(class),
		Details: map[string]any{
			"component": "rate_limiter",
			"error":     err.Error(),
		},
	})
}
