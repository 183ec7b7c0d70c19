package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipetrace-io/pipetrace/internal/config"
)

const (
	burstCapacityMultiplier = 2
	defaultGlobalRPS        = 100
	defaultCallerRPS        = 20
	cleanupInterval         = 5 * time.Minute
	idleTimeout             = time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or a distributed store when running multiple replicas.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// caller identifies the authenticated subject; unauthenticated
		// requests pass the remote address.
		Allow(caller string) bool
	}

	// RateLimitConfig holds the limits of the in-memory rate limiter.
	RateLimitConfig struct {
		GlobalRPS int
		CallerRPS int
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Two tiers: a global token bucket over all traffic and one bucket per
	// caller. Idle caller buckets are removed by a background cleanup
	// goroutine; Close stops it.
	InMemoryRateLimiter struct {
		global    *rate.Limiter
		perCaller map[string]*callerLimiter
		mu        sync.Mutex
		done      chan struct{}
		closeOnce sync.Once

		callerRPS   int
		callerBurst int
	}

	callerLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
	}
)

// LoadRateLimitConfig reads the rate limits from the environment.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalRPS: config.GetEnvInt("PIPETRACE_RATE_LIMIT_GLOBAL_RPS", defaultGlobalRPS),
		CallerRPS: config.GetEnvInt("PIPETRACE_RATE_LIMIT_CALLER_RPS", defaultCallerRPS),
	}
}

// NewInMemoryRateLimiter creates an in-memory rate limiter and starts its
// cleanup goroutine.
func NewInMemoryRateLimiter(cfg *RateLimitConfig) *InMemoryRateLimiter {
	limiter := &InMemoryRateLimiter{
		global:      rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalRPS*burstCapacityMultiplier),
		perCaller:   make(map[string]*callerLimiter),
		done:        make(chan struct{}),
		callerRPS:   cfg.CallerRPS,
		callerBurst: cfg.CallerRPS * burstCapacityMultiplier,
	}

	go limiter.runCleanup()

	return limiter
}

// Allow implements RateLimiter.
func (l *InMemoryRateLimiter) Allow(caller string) bool {
	if !l.global.Allow() {
		return false
	}

	l.mu.Lock()

	entry, ok := l.perCaller[caller]
	if !ok {
		entry = &callerLimiter{
			limiter: rate.NewLimiter(rate.Limit(l.callerRPS), l.callerBurst),
		}
		l.perCaller[caller] = entry
	}

	entry.lastAccess = time.Now()

	l.mu.Unlock()

	return entry.limiter.Allow()
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (l *InMemoryRateLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})

	return nil
}

func (l *InMemoryRateLimiter) runCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleTimeout)

			l.mu.Lock()

			for caller, entry := range l.perCaller {
				if entry.lastAccess.Before(cutoff) {
					delete(l.perCaller, caller)
				}
			}

			l.mu.Unlock()
		}
	}
}

// RateLimit creates a middleware that rejects requests over the configured
// limits with 429 before they reach the handlers.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := GetCaller(r.Context())
			if caller == "" {
				caller = r.RemoteAddr
			}

			if !limiter.Allow(caller) {
				logger.Warn("Request rate limited",
					slog.String("caller", caller),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)

				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
