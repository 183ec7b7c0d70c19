package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pipetrace-io/pipetrace/internal/config"
)

type (
	// TokenVerifier checks a bearer token and returns the caller it belongs to.
	TokenVerifier interface {
		// Verify returns the caller name for a valid token, or false.
		Verify(token string) (string, bool)
	}

	// StaticTokenVerifier verifies bearer tokens against a static set of
	// bcrypt hashes, loaded once at startup. Suitable for small deployments
	// where tokens are provisioned by hand.
	StaticTokenVerifier struct {
		hashes map[string]string // caller name -> bcrypt hash
	}

	// callerKey is the context key for the authenticated caller.
	callerKey struct{}
)

// NewStaticTokenVerifier creates a verifier from caller-name-to-hash pairs.
func NewStaticTokenVerifier(hashes map[string]string) *StaticTokenVerifier {
	return &StaticTokenVerifier{hashes: hashes}
}

// LoadStaticTokenVerifier reads token hashes from the PIPETRACE_API_TOKENS
// environment variable, formatted as "name=bcrypt-hash" pairs separated by
// commas. Returns nil when the variable is unset, which disables
// authentication.
func LoadStaticTokenVerifier() *StaticTokenVerifier {
	raw := config.GetEnvStr("PIPETRACE_API_TOKENS", "")
	if raw == "" {
		return nil
	}

	hashes := make(map[string]string)

	for _, pair := range config.ParseCommaSeparatedList(raw) {
		name, hash, ok := strings.Cut(pair, "=")
		if !ok || name == "" || hash == "" {
			continue
		}

		hashes[name] = hash
	}

	if len(hashes) == 0 {
		return nil
	}

	return NewStaticTokenVerifier(hashes)
}

// Verify implements TokenVerifier.
func (v *StaticTokenVerifier) Verify(token string) (string, bool) {
	for name, hash := range v.hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return name, true
		}
	}

	return "", false
}

// GetCaller extracts the authenticated caller name from the request context.
// Returns an empty string for unauthenticated requests.
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(callerKey{}).(string); ok {
		return caller
	}

	return ""
}

// Authenticate creates a middleware that requires a valid bearer token on
// every request except the listed public paths.
func Authenticate(
	verifier TokenVerifier,
	logger *slog.Logger,
	publicPaths map[string]struct{},
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, public := publicPaths[r.URL.Path]; public {
				next.ServeHTTP(w, r)

				return
			}

			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || token == r.Header.Get("Authorization") {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			caller, ok := verifier.Verify(token)
			if !ok {
				logger.Warn("Rejected invalid bearer token",
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)

				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, caller)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
