package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfigProvider supplies the CORS settings to the middleware without
// coupling it to the api package's config type.
type CORSConfigProvider interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS creates a middleware that sets CORS headers and short-circuits
// preflight requests.
func CORS(cfg CORSConfigProvider) func(http.Handler) http.Handler {
	allowedOrigins := cfg.GetAllowedOrigins()
	methods := strings.Join(cfg.GetAllowedMethods(), ", ")
	headers := strings.Join(cfg.GetAllowedHeaders(), ", ")
	maxAge := strconv.Itoa(cfg.GetMaxAge())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, allowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == "*" || candidate == origin {
			return true
		}
	}

	return false
}
