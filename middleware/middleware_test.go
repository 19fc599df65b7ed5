package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*goGuard.Engine, *memory.Store) {
	t.Helper()
	cfg := goGuard.DefaultConfig()
	cfg.Secrets.SigningSecret = "k9P2vQ7xL4mR8sT1wY6zB3nC5dF0gH2j"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	store := memory.New()
	store.PutSubject(goGuard.Subject{UserID: "u-1", TenantID: "t-1", Role: goGuard.RoleUser, Active: true, TenantActive: true})
	store.PutSubject(goGuard.Subject{UserID: "u-admin", TenantID: "t-1", Role: goGuard.RoleAdmin, Active: true, TenantActive: true})

	e, err := goGuard.New().WithConfig(cfg).WithStore(store).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, store
}

func bearer(t *testing.T, e *goGuard.Engine, userID string) string {
	t.Helper()
	token, _, err := e.IssueToken(jwt.Claims{UserID: userID, TenantID: "t-1"}, jwt.PurposeAPI)
	require.NoError(t, err)
	return "Bearer " + token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) goGuard.ErrorResponse {
	t.Helper()
	var body goGuard.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.AuthResultFromContext(r)
	if ok {
		w.Header().Set("X-User", res.Subject.UserID)
	}
	w.WriteHeader(http.StatusNoContent)
})

func TestGuardAllowsAndAttachesResult(t *testing.T) {
	e, _ := newEngine(t)
	h := middleware.Guard(e, nil, goGuard.LimitAPI)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/v1/things", nil)
	req.Header.Set("Authorization", bearer(t, e, "u-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-1", rec.Header().Get("X-User"))
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestGuardMissingHeader(t *testing.T) {
	e, _ := newEngine(t)
	h := middleware.Guard(e, nil, goGuard.LimitAPI)(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, goGuard.CodeMissingInvalidHeader, body.Code)
	assert.Equal(t, http.StatusUnauthorized, body.StatusCode)
}

func TestRequireAdminForbidsUser(t *testing.T) {
	e, _ := newEngine(t)
	h := middleware.RequireAdmin(e, goGuard.LimitAPI)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", bearer(t, e, "u-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Insufficient privileges", decode(t, rec).Error)

	req.Header.Set("Authorization", bearer(t, e, "u-admin"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	middleware.RequireMasterAdmin(e, goGuard.LimitAPI)(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardRateLimitSetsRetryAfter(t *testing.T) {
	e, _ := newEngine(t)
	h := middleware.Guard(e, nil, goGuard.LimitAuth)(okHandler)
	auth := bearer(t, e, "u-1")

	var rec *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("Authorization", auth)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)
	assert.LessOrEqual(t, retry, 900)
	body := decode(t, rec)
	assert.Equal(t, retry, body.RetryAfter)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestGuardClientIP(t *testing.T) {
	e, store := newEngine(t)
	rec := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:40000"
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set("X-Request-ID", "req-42")

	middleware.Guard(e, nil, goGuard.LimitAPI)(okHandler).ServeHTTP(rec, req)
	middleware.Guard(e, nil, goGuard.LimitAPI, middleware.WithTrustForwardedFor())(okHandler).ServeHTTP(httptest.NewRecorder(), req)

	entries := store.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "192.0.2.10", entries[0].IP)
	assert.Equal(t, "203.0.113.1", entries[1].IP)
	assert.Equal(t, "req-42", entries[0].RequestID)
}

func TestCSRFMiddleware(t *testing.T) {
	e, _ := newEngine(t)
	session := func(r *http.Request) string { return r.Header.Get("X-Session") }
	h := middleware.Guard(e, nil, goGuard.LimitAPI)(
		middleware.CSRF(e, middleware.WithSessionID(session))(okHandler),
	)
	auth := bearer(t, e, "u-1")

	tok, err := e.IssueCSRFToken(context.Background(), "u-1", "s-1")
	require.NoError(t, err)

	send := func(method, token, sessionID string) int {
		req := httptest.NewRequest(method, "/v1/things", nil)
		req.Header.Set("Authorization", auth)
		req.Header.Set("X-Session", sessionID)
		if token != "" {
			req.Header.Set(middleware.CSRFHeader, token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send(http.MethodGet, "", ""), "safe methods skip the check")
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "", "s-1"))
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, tok.Value, "s-2"))
	assert.Equal(t, http.StatusNoContent, send(http.MethodPost, tok.Value, "s-1"))
	assert.Equal(t, http.StatusForbidden, send(http.MethodDelete, tok.Value, "s-1"), "tokens are single use")
}
