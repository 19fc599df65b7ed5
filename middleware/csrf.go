package middleware

import (
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
)

// CSRFHeader carries the token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFFormField is the fallback location for HTML form posts.
const CSRFFormField = "_csrf"

// CSRF consumes the request's CSRF token on every method except GET, HEAD, OPTIONS and
// TRACE. When Guard ran first, the token must belong to the authenticated user.
func CSRF(engine *goGuard.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if engine == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			token := r.Header.Get(CSRFHeader)
			if token == "" {
				token = r.PostFormValue(CSRFFormField)
			}

			var userID, sessionID string
			if res, ok := AuthResultFromContext(r); ok && res.Claims != nil {
				userID = res.Claims.UserID
			}
			if o.sessionID != nil {
				sessionID = o.sessionID(r)
			}

			if err := engine.ValidateCSRFToken(r.Context(), token, userID, sessionID); err != nil {
				WriteError(w, engine, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
