package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// Auth requires the bearer token on /v1/ routes. Paths under any of the
// public prefixes carry their own authorization (signed download links).
func Auth(requiredToken string, publicPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredToken == "" || !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}
			for _, prefix := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeError(w, r, http.StatusUnauthorized, reportapi.CodeUnauthorized, "authentication required")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				writeError(w, r, http.StatusUnauthorized, reportapi.CodeUnauthorized, "authentication required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
