package goGuard

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

var (
	// ErrMissingAuthHeader is returned when the credential header is absent or not a Bearer scheme.
	ErrMissingAuthHeader = errors.New("missing or invalid authorization header")
	// ErrSubjectNotFound is returned by stores when no user matches the token subject.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrSubjectInactive is returned when the user or its tenant is missing or inactive.
	ErrSubjectInactive = errors.New("subject or tenant inactive")
	// ErrInsufficientPrivileges is returned when a role gate rejects the subject.
	ErrInsufficientPrivileges = errors.New("insufficient privileges")
	// ErrRateLimited is returned when a rate-limit class ceiling is exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrCSRFInvalid is returned when a CSRF token is missing, expired, reused or foreign.
	ErrCSRFInvalid = errors.New("csrf token invalid")
	// ErrPasswordPolicy is returned when a candidate password fails policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrEngineNotReady is returned when Build is bypassed or the engine is closed.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Kind is the error taxonomy surfaced to the request-handling layer.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindRateLimit      Kind = "rate_limit"
	KindSecurity       Kind = "security"
	KindStorage        Kind = "storage"
	KindInternal       Kind = "internal"
)

// genericMessages are returned outside development mode for kinds whose messages may
// carry implementation detail.
var genericMessages = map[Kind]string{
	KindValidation:     "Invalid request",
	KindAuthentication: "Authentication required",
	KindAuthorization:  "Insufficient privileges",
	KindRateLimit:      "Too many requests",
	KindSecurity:       "Request rejected",
	KindStorage:        "Service temporarily unavailable",
	KindInternal:       "Internal server error",
}

// Stable machine-readable codes.
const (
	CodeMissingInvalidHeader  = "missing_invalid_header"
	CodeTokenExpired          = "token_expired"
	CodeTokenMalformed        = "token_malformed"
	CodeTokenNotYetValid      = "token_not_yet_valid"
	CodeTokenSignatureInvalid = "token_signature_invalid"
	CodeSubjectInactive       = "subject_inactive"
	CodeInsufficientPrivilege = "insufficient_privileges"
	CodeRateLimited           = "rate_limited"
	CodeCSRFInvalid           = "csrf_invalid"
	CodePasswordPolicy        = "password_policy"
	CodeValidationFailed      = "validation_failed"
	CodeStorageUnavailable    = "storage_unavailable"
	CodeInternal              = "internal_error"
)

// Error is a classified failure. Message is safe to show to callers; Err carries the
// underlying cause and is only rendered in development mode.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Details    []string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorResponse is the JSON body for a rejected request.
type ErrorResponse struct {
	Success    bool     `json:"success"`
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	StatusCode int      `json:"statusCode"`
	RetryAfter int      `json:"retryAfter,omitempty"`
	Details    []string `json:"details,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

// Response renders e for the wire. Storage and internal errors always carry the generic
// message; devMode adds the wrapped cause.
func (e *Error) Response(devMode bool) ErrorResponse {
	msg := e.Message
	if msg == "" || e.Kind == KindStorage || e.Kind == KindInternal {
		msg = genericMessages[e.Kind]
	}
	resp := ErrorResponse{
		Success:    false,
		Error:      msg,
		Code:       e.Code,
		StatusCode: e.StatusCode,
		RetryAfter: RetryAfterSeconds(e.RetryAfter),
		Details:    e.Details,
	}
	if devMode && e.Err != nil {
		resp.Detail = e.Err.Error()
	}
	return resp
}

// RetryAfterSeconds rounds d up to whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// AsError returns the *Error in err's chain. Unclassified errors become KindInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError(err)
}

// KindOf returns the Kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

func authenticationError(code, message string, cause error) *Error {
	return &Error{
		Kind:       KindAuthentication,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        cause,
	}
}

func authorizationError(cause error) *Error {
	return &Error{
		Kind:       KindAuthorization,
		Code:       CodeInsufficientPrivilege,
		Message:    "Insufficient privileges",
		StatusCode: http.StatusForbidden,
		Err:        cause,
	}
}

func rateLimitError(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       CodeRateLimited,
		Message:    "Too many requests",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

func securityError(code, message string, cause error) *Error {
	return &Error{
		Kind:       KindSecurity,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
		Err:        cause,
	}
}

func validationError(code, message string, details []string, cause error) *Error {
	return &Error{
		Kind:       KindValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    details,
		Err:        cause,
	}
}

func storageError(cause error) *Error {
	return &Error{
		Kind:       KindStorage,
		Code:       CodeStorageUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Err:        cause,
	}
}

func internalError(cause error) *Error {
	return &Error{
		Kind:       KindInternal,
		Code:       CodeInternal,
		StatusCode: http.StatusInternalServerError,
		Err:        cause,
	}
}
