package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// Option customizes how a request is described to the Engine.
type Option func(*options)

type options struct {
	trustForwardedFor bool
	requestIDHeader   string
	sessionID         func(*http.Request) string
}

// WithTrustForwardedFor takes the client IP from the first X-Forwarded-For hop. Only
// enable it behind a proxy that overwrites the header.
func WithTrustForwardedFor() Option {
	return func(o *options) { o.trustForwardedFor = true }
}

// WithRequestIDHeader names the header that carries the correlation id. Default
// X-Request-ID.
func WithRequestIDHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.requestIDHeader = name
		}
	}
}

// WithSessionID tells CSRF how to find the caller's session id. Tokens issued for a
// session are then only accepted from that session.
func WithSessionID(fn func(*http.Request) string) Option {
	return func(o *options) { o.sessionID = fn }
}

func buildOptions(opts []Option) options {
	o := options{requestIDHeader: "X-Request-ID"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AuthResultFromContext returns the result stored by Guard.
func AuthResultFromContext(r *http.Request) (*goGuard.AuthResult, bool) {
	return goGuard.AuthResultFromContext(r.Context())
}

// Guard authenticates the request, applies gate and counts it against class. On success
// the AuthResult and request metadata are attached to the request context.
func Guard(engine *goGuard.Engine, gate goGuard.Gate, class goGuard.LimitClass, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			req := o.describe(r)
			out := engine.Authorize(r.Context(), req, gate, class)
			if out.RateLimit != nil && !out.RateLimit.Degraded && out.RateLimit.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(out.RateLimit.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(out.RateLimit.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(out.RateLimit.ResetAt.Unix(), 10))
			}
			if !out.Success {
				WriteError(w, engine, out.Error)
				return
			}

			ctx := goGuard.WithRequest(r.Context(), req)
			ctx = goGuard.WithAuthResult(ctx, out.Auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin is Guard with goGuard.AdminOrHigher.
func RequireAdmin(engine *goGuard.Engine, class goGuard.LimitClass, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, goGuard.AdminOrHigher(), class, opts...)
}

// RequireMasterAdmin is Guard with goGuard.MasterAdminOnly.
func RequireMasterAdmin(engine *goGuard.Engine, class goGuard.LimitClass, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, goGuard.MasterAdminOnly(), class, opts...)
}

// WriteError renders err as the engine's JSON error body.
func WriteError(w http.ResponseWriter, engine *goGuard.Engine, err error) {
	resp := engine.ErrorResponse(err)
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

func (o options) describe(r *http.Request) goGuard.Request {
	return goGuard.Request{
		Authorization: r.Header.Get("Authorization"),
		ClientIP:      o.clientIP(r),
		UserAgent:     r.UserAgent(),
		RequestID:     r.Header.Get(o.requestIDHeader),
	}
}

func (o options) clientIP(r *http.Request) string {
	if o.trustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
