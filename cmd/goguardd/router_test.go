package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/store/memory"
)

type testServer struct {
	engine  *goGuard.Engine
	store   *memory.Store
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := goGuard.DefaultConfig()
	cfg.Secrets.SigningSecret = "k9P2vQ7xL4mR8sT1wY6zB3nC5dF0gH2j"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	store := memory.New()
	for _, s := range []goGuard.Subject{
		{UserID: "u-user", TenantID: "t-1", Email: "user@acme.test", Role: goGuard.RoleUser},
		{UserID: "u-admin", TenantID: "t-1", Email: "admin@acme.test", Role: goGuard.RoleAdmin},
		{UserID: "u-master", TenantID: "t-0", Email: "root@acme.test", Role: goGuard.RoleMasterAdmin},
	} {
		s.Active, s.TenantActive = true, true
		store.PutSubject(s)
	}

	logger := zaptest.NewLogger(t)
	e, err := goGuard.New().WithConfig(cfg).WithStore(store).WithLogger(logger).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return &testServer{engine: e, store: store, handler: newRouter(e, logger)}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if userID != "" {
		token, _, err := s.engine.IssueToken(jwt.Claims{UserID: userID}, jwt.PurposeAPI)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"activeSecrets":1`)

	s.do(t, http.MethodGet, "/v1/me", "", nil, nil)
	rec = s.do(t, http.MethodGet, "/metrics", "", nil, nil)
	assert.Contains(t, rec.Body.String(), "goguard_auth_missing_header_total 1")
}

func TestMeReturnsStoreRole(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/v1/me", "u-admin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "admin", body["role"])
	assert.Equal(t, "t-1", body["tenantId"])
}

func TestPasswordCheckNeedsCSRF(t *testing.T) {
	s := newTestServer(t)
	session := map[string]string{"X-Session-ID": "s-9"}
	payload := []byte(`{"password":"StrongP@ssw0rd123!"}`)

	rec := s.do(t, http.MethodPost, "/v1/password/check", "u-user", payload, session)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/csrf", "u-user", nil, session)
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))

	rec = s.do(t, http.MethodPost, "/v1/password/check", "u-user", payload, map[string]string{
		"X-Session-ID":         "s-9",
		middleware.CSRFHeader: issued.Token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isValid":true`)
}

func TestAdminAuditIsTenantScoped(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.engine.Audit(ctx, audit.Input{Type: audit.LoginFailed, TenantID: "t-1"})
	s.engine.Audit(ctx, audit.Input{Type: audit.LoginFailed, TenantID: "t-2"})

	rec := s.do(t, http.MethodGet, "/admin/audit", "u-user", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/audit?tenant_id=t-2&event_type=login_failed", "u-admin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page audit.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "t-1", page.Entries[0].TenantID)

	rec = s.do(t, http.MethodGet, "/admin/audit?event_type=login_failed", "u-master", nil, nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 2, page.Total)
}

func TestSecurityMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/admin/security-metrics?timeframe=7d", "u-master", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/security-metrics?timeframe=2w", "u-master", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityMetricsHiddenFromTenantAdmins(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/admin/security-metrics", "u-admin", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestForcedRotationRequiresMasterAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/admin/secrets/rotate", "u-admin", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	tok, err := s.engine.IssueCSRFToken(context.Background(), "u-master", "")
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/admin/secrets/rotate", "u-master", nil, map[string]string{
		middleware.CSRFHeader: tok.Value,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"createdId"`)
	assert.Equal(t, 2, s.engine.ActiveSecretCount())
}
