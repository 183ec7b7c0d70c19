package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCorrelationID(t *testing.T) {
	t.Run("generates id when header missing", func(t *testing.T) {
		var captured string

		handler := CorrelationID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			captured = GetCorrelationID(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, captured)
		require.NotEqual(t, "unknown", captured)
		require.Equal(t, captured, rec.Header().Get("X-Correlation-ID"))
	})

	t.Run("propagates caller supplied id", func(t *testing.T) {
		var captured string

		handler := CorrelationID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			captured = GetCorrelationID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", "req-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.Equal(t, "req-123", captured)
	})
}

func TestStaticTokenVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("token-a"), bcrypt.MinCost)
	require.NoError(t, err)

	verifier := NewStaticTokenVerifier(map[string]string{"ci": string(hash)})

	caller, ok := verifier.Verify("token-a")
	require.True(t, ok)
	require.Equal(t, "ci", caller)

	_, ok = verifier.Verify("wrong")
	require.False(t, ok)
}

func TestLoadStaticTokenVerifier(t *testing.T) {
	t.Run("unset variable disables auth", func(t *testing.T) {
		t.Setenv("PIPETRACE_API_TOKENS", "")
		require.Nil(t, LoadStaticTokenVerifier())
	})

	t.Run("malformed pairs are skipped", func(t *testing.T) {
		t.Setenv("PIPETRACE_API_TOKENS", "nohash,=orphan")
		require.Nil(t, LoadStaticTokenVerifier())
	})

	t.Run("valid pairs load", func(t *testing.T) {
		t.Setenv("PIPETRACE_API_TOKENS", "ci=$2a$04$fakehash")

		verifier := LoadStaticTokenVerifier()
		require.NotNil(t, verifier)
	})
}

func TestInMemoryRateLimiter(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{GlobalRPS: 100, CallerRPS: 1})

	t.Cleanup(func() {
		_ = limiter.Close()
	})

	// Burst is 2x the per-caller rate, so the third request in the same
	// instant must be rejected.
	require.True(t, limiter.Allow("ci"))
	require.True(t, limiter.Allow("ci"))
	require.False(t, limiter.Allow("ci"))

	// A different caller has its own bucket.
	require.True(t, limiter.Allow("other"))
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{GlobalRPS: 100, CallerRPS: 1})

	t.Cleanup(func() {
		_ = limiter.Close()
	})

	handler := RateLimit(limiter, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	for range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRecovery(t *testing.T) {
	handler := Recovery(discardLogger())(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestApplyOrder(t *testing.T) {
	var order []string

	mark := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}),
		mark("first"), mark("second"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"first", "second"}, order)
}
