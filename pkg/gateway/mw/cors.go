package mw

import (
	"net/http"
	"strings"
)

var corsAllowedMethods = "GET, POST, DELETE, OPTIONS"

var corsAllowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
}, ", ")

var corsExposedHeaders = "X-Request-ID"

// CORS attaches headers for allowlisted origins. An empty allowlist
// disables CORS entirely, including preflight.
func CORS(allowed map[string]struct{}, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		// Preflight: explicitly allow/deny so browser callers get deterministic behavior.
		if r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != "" {
			if origin == "" || len(allowed) == 0 {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			if _, ok := allowed[origin]; !ok {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Non-preflight: only attach CORS headers when explicitly allowlisted.
		if origin != "" && len(allowed) > 0 {
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
			}
		}

		next.ServeHTTP(w, r)
	})
}
