package goGuard

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/secrets"
)

// Roles known to the built-in gates.
const (
	RoleUser        = "user"
	RoleAdmin       = "admin"
	RoleMasterAdmin = "master_admin"
)

// Subject is the authoritative user record loaded on every request.
type Subject struct {
	UserID       string
	TenantID     string
	Email        string
	Name         string
	Role         string
	Active       bool
	TenantActive bool
}

// SubjectStore loads users with their tenant status. LoadSubject returns
// ErrSubjectNotFound when no user matches.
type SubjectStore interface {
	LoadSubject(ctx context.Context, userID string) (Subject, error)
}

// PasswordHistoryStore keeps previous password hashes, newest first.
type PasswordHistoryStore interface {
	PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error)
	AppendPasswordHistory(ctx context.Context, userID, hash string, at time.Time) error
}

// Store is the full durable store the engine needs. store/postgres and store/memory
// implement it; store/redis can replace the counter and CSRF parts.
type Store interface {
	secrets.Store
	rate.CounterStore
	csrf.Store
	audit.Store
	SubjectStore
	PasswordHistoryStore
}

// CounterStore is the rate-limit counter subset of Store.
type CounterStore = rate.CounterStore

// CSRFStore is the CSRF token subset of Store.
type CSRFStore = csrf.Store

// Request is what the host request layer supplies per call.
type Request struct {
	Authorization string
	ClientIP      string
	UserAgent     string
	RequestID     string
}

// Stage is the furthest authenticator state a request reached.
type Stage int

const (
	StageUnauthenticated Stage = iota
	StageTokenVerified
	StageSubjectChecked
	StageRoleChecked
	StageAuthorized
)

func (s Stage) String() string {
	switch s {
	case StageUnauthenticated:
		return "unauthenticated"
	case StageTokenVerified:
		return "token_verified"
	case StageSubjectChecked:
		return "subject_checked"
	case StageRoleChecked:
		return "role_checked"
	case StageAuthorized:
		return "authorized"
	}
	return "unknown"
}

// AuthResult records how far a request got. Claims carry the store's role and email.
type AuthResult struct {
	Stage        Stage
	Claims       *jwt.Claims
	Subject      Subject
	NeedsRefresh bool
}

// LimitClass names a rate-limit class.
type LimitClass string

const (
	LimitAuth    LimitClass = LimitClass(rate.ClassAuth)
	LimitAPI     LimitClass = LimitClass(rate.ClassAPI)
	LimitUpload  LimitClass = LimitClass(rate.ClassUpload)
	LimitWebhook LimitClass = LimitClass(rate.ClassWebhook)
)

// RateLimitDecision is the outcome of CheckRateLimit.
type RateLimitDecision struct {
	Allowed    bool
	Class      LimitClass
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	Degraded   bool
}

// Outcome is the {success, error, statusCode} result of Engine.Authorize.
type Outcome struct {
	Success    bool
	Error      *Error
	StatusCode int
	// RetryAfter is whole seconds, set for rate-limit rejections.
	RetryAfter int
	Auth       *AuthResult
	RateLimit  *RateLimitDecision
}
