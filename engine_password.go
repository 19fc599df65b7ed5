package goGuard

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/password"
	"go.uber.org/zap"
)

// ValidatePassword checks candidate against the configured policy. When userID is set
// and history checks are enabled, the last HistorySize hashes of that user are loaded
// and any match is reported as reuse. A history store failure is returned as a storage
// error rather than silently skipping the reuse check.
func (e *Engine) ValidatePassword(ctx context.Context, userID, candidate string, hints password.Hints) (password.Result, error) {
	if e == nil || e.closed.Load() {
		return password.Result{}, internalError(ErrEngineNotReady)
	}

	history := password.History{Matcher: e.hasher}
	if userID != "" && e.policy.RejectHistory && e.config.Password.HistorySize > 0 {
		hashes, err := e.store.PasswordHistory(ctx, userID, e.config.Password.HistorySize)
		if err != nil {
			return password.Result{}, storageError(err)
		}
		history.Hashes = hashes
	}

	res := e.policy.Validate(candidate, hints, history)
	if res.IsValid {
		e.metricInc(MetricPasswordAccepted)
	} else {
		e.metricInc(MetricPasswordRejected)
	}
	return res, nil
}

// SetPassword validates candidate, hashes it and appends the hash to the user's
// history. The encoded hash is returned for the caller to persist with its credential
// record. A policy failure returns a KindValidation error carrying every message.
func (e *Engine) SetPassword(ctx context.Context, userID, candidate string, hints password.Hints) (string, error) {
	res, err := e.ValidatePassword(ctx, userID, candidate, hints)
	if err != nil {
		return "", err
	}
	if !res.IsValid {
		return "", validationError(CodePasswordPolicy, "Password does not meet policy", res.Errors, ErrPasswordPolicy)
	}

	encoded, err := e.hasher.Hash(candidate)
	if err != nil {
		return "", internalError(err)
	}
	if userID != "" {
		if err := e.store.AppendPasswordHistory(ctx, userID, encoded, e.now().UTC()); err != nil {
			e.logger.Error("password history append failed", zap.String("user_id", userID), zap.Error(err))
			return "", storageError(err)
		}
	}

	e.Audit(ctx, audit.Input{
		Type:     audit.PasswordChanged,
		UserID:   userID,
		Resource: "password",
		Action:   "set",
		Details:  map[string]any{"strength": string(res.Strength)},
	})
	return encoded, nil
}

// HashPassword hashes plain with the configured argon2id parameters.
func (e *Engine) HashPassword(plain string) (string, error) {
	if e == nil || e.closed.Load() {
		return "", internalError(ErrEngineNotReady)
	}
	encoded, err := e.hasher.Hash(plain)
	if err != nil {
		return "", internalError(err)
	}
	return encoded, nil
}

// VerifyPassword compares plain with an encoded hash. needsUpgrade reports that the
// hash was produced with weaker parameters than the current configuration.
func (e *Engine) VerifyPassword(plain, encoded string) (ok, needsUpgrade bool, err error) {
	if e == nil || e.closed.Load() {
		return false, false, internalError(ErrEngineNotReady)
	}
	ok, err = e.hasher.Verify(plain, encoded)
	if err != nil {
		return false, false, validationError(CodeValidationFailed, "Invalid password hash", nil, err)
	}
	if ok {
		needsUpgrade, _ = e.hasher.NeedsUpgrade(encoded)
	}
	return ok, needsUpgrade, nil
}

// GeneratePassword returns a random password that passes the configured policy.
func (e *Engine) GeneratePassword(length int) (string, error) {
	if e == nil || e.closed.Load() {
		return "", internalError(ErrEngineNotReady)
	}
	pw, err := e.policy.Generate(length)
	if err != nil {
		return "", validationError(CodeValidationFailed, "Cannot generate password", nil, err)
	}
	return pw, nil
}

// PasswordNeedsRotation reports whether a password last changed at lastChangedAt has
// exceeded the configured maximum age.
func (e *Engine) PasswordNeedsRotation(lastChangedAt time.Time) bool {
	if e == nil {
		return false
	}
	return e.policy.ShouldRotate(lastChangedAt, e.now())
}
