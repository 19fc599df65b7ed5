package goGuard

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/jwt"
)

const bearerPrefix = "Bearer "

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// Authenticate runs the token, subject and role checks in order and stops at the first
// failure. The returned AuthResult is never nil; its Stage is the last state reached.
// Authenticate performs no logging or auditing.
func (e *Engine) Authenticate(ctx context.Context, req Request, gate Gate) (*AuthResult, error) {
	res := &AuthResult{Stage: StageUnauthenticated}
	if e == nil || e.closed.Load() {
		return res, internalError(ErrEngineNotReady)
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()

	token, ok := BearerToken(req.Authorization)
	if !ok {
		e.metricInc(MetricAuthMissingHeader)
		return res, authenticationError(CodeMissingInvalidHeader, "Missing or invalid authorization header", ErrMissingAuthHeader)
	}

	claims, err := e.tokens.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			e.metricInc(MetricAuthTokenExpired)
		} else {
			e.metricInc(MetricAuthTokenRejected)
		}
		return res, tokenError(err)
	}
	res.Stage = StageTokenVerified
	res.Claims = claims
	res.NeedsRefresh = e.tokens.NeedsRefresh(claims)

	subject, err := e.store.LoadSubject(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrSubjectNotFound) {
			e.metricInc(MetricAuthSubjectInactive)
			return res, subjectInactiveError(err)
		}
		return res, storageError(err)
	}
	if !subject.Active || !subject.TenantActive {
		e.metricInc(MetricAuthSubjectInactive)
		return res, subjectInactiveError(ErrSubjectInactive)
	}
	if claims.TenantID != "" && subject.TenantID != claims.TenantID {
		e.metricInc(MetricAuthSubjectInactive)
		return res, subjectInactiveError(ErrSubjectInactive)
	}
	claims.Role = subject.Role
	claims.Email = subject.Email
	claims.TenantID = subject.TenantID
	res.Stage = StageSubjectChecked
	res.Subject = subject

	if gate == nil {
		gate = AnyAuthenticated()
	}
	if !gate(subject.Role) {
		e.metricInc(MetricAuthForbidden)
		return res, authorizationError(ErrInsufficientPrivileges)
	}
	res.Stage = StageRoleChecked

	e.metricInc(MetricAuthSuccess)
	res.Stage = StageAuthorized
	return res, nil
}

// Authorize is the orchestrating helper for request handlers: Authenticate, then the
// rate limit for class, then an audit entry for any rejection other than a missing
// header.
func (e *Engine) Authorize(ctx context.Context, req Request, gate Gate, class LimitClass) Outcome {
	ctx = WithRequest(ctx, req)

	res, err := e.Authenticate(ctx, req, gate)
	if err != nil {
		e.auditRejection(ctx, res, err)
		return rejected(res, nil, err)
	}

	decision, err := e.CheckRateLimit(ctx, class, req, res.Subject.UserID)
	if err != nil {
		e.auditRejection(ctx, res, err)
		return rejected(res, &decision, err)
	}
	return Outcome{
		Success:    true,
		StatusCode: http.StatusOK,
		Auth:       res,
		RateLimit:  &decision,
	}
}

func rejected(res *AuthResult, decision *RateLimitDecision, err error) Outcome {
	gerr := AsError(err)
	return Outcome{
		Success:    false,
		Error:      gerr,
		StatusCode: gerr.StatusCode,
		RetryAfter: RetryAfterSeconds(gerr.RetryAfter),
		Auth:       res,
		RateLimit:  decision,
	}
}

func (e *Engine) auditRejection(ctx context.Context, res *AuthResult, err error) {
	gerr := AsError(err)
	in := audit.Input{
		Details: map[string]any{"code": gerr.Code, "stage": res.Stage.String()},
	}
	if res.Claims != nil {
		in.UserID = res.Claims.UserID
		in.TenantID = res.Claims.TenantID
	}

	switch gerr.Code {
	case CodeMissingInvalidHeader:
		return
	case CodeTokenExpired:
		in.Type = audit.TokenExpired
	case CodeTokenSignatureInvalid:
		in.Type = audit.SignatureInvalid
	case CodeTokenMalformed, CodeTokenNotYetValid:
		in.Type = audit.TokenInvalid
	case CodeSubjectInactive, CodeInsufficientPrivilege:
		in.Type = audit.AccessDenied
		in.Details["role"] = res.Subject.Role
	case CodeRateLimited:
		in.Type = audit.RateLimitExceeded
		in.Details["retry_after_seconds"] = RetryAfterSeconds(gerr.RetryAfter)
	default:
		return
	}
	e.Audit(ctx, in)
}

func tokenError(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return authenticationError(CodeTokenExpired, "Token expired", err)
	case errors.Is(err, jwt.ErrNotYetValid):
		return authenticationError(CodeTokenNotYetValid, "Token not yet valid", err)
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return authenticationError(CodeTokenSignatureInvalid, "Invalid token signature", err)
	case errors.Is(err, jwt.ErrMalformed):
		return authenticationError(CodeTokenMalformed, "Token malformed", err)
	}
	return internalError(err)
}

func subjectInactiveError(cause error) *Error {
	return authenticationError(CodeSubjectInactive, "Account or tenant inactive", cause)
}
