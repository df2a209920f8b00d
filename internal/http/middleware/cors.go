package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/fleet-reports/internal/reportapi"
)

const defaultCORSMaxAgeSeconds = 600

var (
	defaultCORSAllowedMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
	}
	defaultCORSAllowedHeaders = []string{
		"Accept",
		"Authorization",
		"Content-Type",
		reportapi.HeaderIdempotencyKey,
		reportapi.HeaderRequestID,
	}
	// Browsers hide these from scripts unless listed; the dashboard reads the
	// artifact filename and the request id for error reports.
	corsExposedHeaders = []string{
		"Content-Disposition",
		reportapi.HeaderRequestID,
	}
)

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAgeSeconds  int
}

// OriginMatcher decides whether a browser origin may call the API or open
// a job event stream. A "*" entry admits every origin.
type OriginMatcher struct {
	origins   []string
	anyOrigin bool
}

func NewOriginMatcher(origins []string) OriginMatcher {
	normalized := normalizeStringList(origins)
	return OriginMatcher{
		origins:   normalized,
		anyOrigin: containsFold(normalized, "*"),
	}
}

// Allowed reports true for an empty origin: requests without one do not
// come from a browser page.
func (m OriginMatcher) Allowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" || m.anyOrigin {
		return true
	}
	return containsFold(m.origins, origin)
}

// allowOriginValue is the Access-Control-Allow-Origin value for an allowed
// origin.
func (m OriginMatcher) allowOriginValue(origin string) string {
	if m.anyOrigin {
		return "*"
	}
	return origin
}

type corsPolicy struct {
	origins      OriginMatcher
	allowMethods string
	allowHeaders string
	exposed      string
	maxAge       string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	methods := normalizeStringList(cfg.AllowedMethods)
	if len(methods) == 0 {
		methods = defaultCORSAllowedMethods
	}
	headers := normalizeStringList(cfg.AllowedHeaders)
	if len(headers) == 0 {
		headers = defaultCORSAllowedHeaders
	}
	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAgeSeconds
	}
	return corsPolicy{
		origins:      NewOriginMatcher(cfg.AllowedOrigins),
		allowMethods: strings.Join(methods, ", "),
		allowHeaders: strings.Join(headers, ", "),
		exposed:      strings.Join(corsExposedHeaders, ", "),
		maxAge:       strconv.Itoa(maxAge),
	}
}

// CORS answers preflights itself. A disallowed origin gets no CORS headers
// and the browser blocks the response.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !policy.origins.Allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			header.Set("Access-Control-Allow-Origin", policy.origins.allowOriginValue(origin))
			header.Set("Access-Control-Expose-Headers", policy.exposed)

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			header.Add("Vary", "Access-Control-Request-Method")
			header.Add("Vary", "Access-Control-Request-Headers")
			header.Set("Access-Control-Allow-Methods", policy.allowMethods)
			header.Set("Access-Control-Allow-Headers", policy.allowHeaders)
			header.Set("Access-Control-Max-Age", policy.maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func normalizeStringList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		result = append(result, value)
	}
	return result
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}
