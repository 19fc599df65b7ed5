package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/password"
)

func newRouter(engine *goGuard.Engine, logger *zap.Logger) http.Handler {
	h := &handlers{engine: engine, logger: logger.Named("http")}
	opts := []middleware.Option{middleware.WithSessionID(sessionID)}

	api := middleware.Guard(engine, goGuard.AnyAuthenticated(), goGuard.LimitAPI, opts...)
	admin := middleware.RequireAdmin(engine, goGuard.LimitAPI, opts...)
	master := middleware.RequireMasterAdmin(engine, goGuard.LimitAuth, opts...)
	fleet := middleware.RequireMasterAdmin(engine, goGuard.LimitAPI, opts...)
	csrf := middleware.CSRF(engine, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.Handle("GET /metrics", prometheus.New(engine).Handler())

	mux.Handle("GET /v1/me", api(http.HandlerFunc(h.me)))
	mux.Handle("POST /v1/csrf", api(http.HandlerFunc(h.issueCSRF)))
	mux.Handle("POST /v1/password/check", api(csrf(http.HandlerFunc(h.checkPassword))))

	mux.Handle("GET /admin/audit", admin(http.HandlerFunc(h.queryAudit)))
	// Summaries span every tenant.
	mux.Handle("GET /admin/security-metrics", fleet(http.HandlerFunc(h.securityMetrics)))
	mux.Handle("POST /admin/secrets/rotate", master(csrf(http.HandlerFunc(h.rotateSecrets))))
	return mux
}

func sessionID(r *http.Request) string {
	return r.Header.Get("X-Session-ID")
}

type handlers struct {
	engine *goGuard.Engine
	logger *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"activeSecrets": h.engine.ActiveSecretCount(),
	})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":       res.Subject.UserID,
		"tenantId":     res.Subject.TenantID,
		"email":        res.Subject.Email,
		"role":         res.Subject.Role,
		"needsRefresh": res.NeedsRefresh,
	})
}

func (h *handlers) issueCSRF(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r)
	tok, err := h.engine.IssueCSRFToken(r.Context(), res.Subject.UserID, sessionID(r))
	if err != nil {
		middleware.WriteError(w, h.engine, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     tok.Value,
		"expiresAt": tok.ExpiresAt,
	})
}

type passwordCheckRequest struct {
	Password string `json:"password"`
}

func (h *handlers) checkPassword(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r)
	var body passwordCheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid request body"})
		return
	}
	hints := password.Hints{Email: res.Subject.Email, Name: res.Subject.Name}
	result, err := h.engine.ValidatePassword(r.Context(), res.Subject.UserID, body.Password, hints)
	if err != nil {
		middleware.WriteError(w, h.engine, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) queryAudit(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r)
	q := r.URL.Query()
	f := audit.Filter{
		UserID:   q.Get("user_id"),
		TenantID: q.Get("tenant_id"),
		IP:       q.Get("ip"),
		Resource: q.Get("resource"),
		Offset:   atoiOr(q.Get("offset"), 0),
		Limit:    atoiOr(q.Get("limit"), 0),
	}
	for _, t := range splitList(q.Get("event_type")) {
		f.Types = append(f.Types, audit.EventType(t))
	}
	for _, s := range splitList(q.Get("severity")) {
		f.Severities = append(f.Severities, audit.Severity(s))
	}
	f.Tags = splitList(q.Get("tags"))
	f.From = parseTime(q.Get("from"))
	f.To = parseTime(q.Get("to"))
	// Tenant admins only see their own tenant.
	if res.Subject.Role != goGuard.RoleMasterAdmin {
		f.TenantID = res.Subject.TenantID
	}

	page, err := h.engine.QueryAudit(r.Context(), f)
	if err != nil {
		middleware.WriteError(w, h.engine, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) securityMetrics(w http.ResponseWriter, r *http.Request) {
	tf := audit.Timeframe(r.URL.Query().Get("timeframe"))
	if tf == "" {
		tf = audit.LastDay
	}
	sum, err := h.engine.SecurityMetrics(r.Context(), tf)
	if err != nil {
		middleware.WriteError(w, h.engine, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handlers) rotateSecrets(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r)
	result, err := h.engine.ForceRotateSecrets(r.Context(), "forced by "+res.Subject.UserID)
	if err != nil {
		h.logger.Error("forced rotation failed", zap.Error(err))
		middleware.WriteError(w, h.engine, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
