// Package ratelimit provides per-client token bucket rate limiting.
package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/chainscout/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	// CleanupMinutes is both the sweep interval and the idle age after
	// which a client's bucket is dropped.
	CleanupMinutes int
	// ExemptPaths bypass the limiter entirely.
	ExemptPaths []string
}

// DefaultExemptPaths keeps probes and scrapes out of the buckets.
var DefaultExemptPaths = []string{"/health", "/healthz", "/readyz", "/metrics"}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client IP.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	exempt  map[string]bool
	now     func() time.Time
}

// New creates a Limiter. Call Run to sweep idle buckets.
func New(cfg Config) *Limiter {
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	exempt := cfg.ExemptPaths
	if exempt == nil {
		exempt = DefaultExemptPaths
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		idle:    idle,
		exempt:  make(map[string]bool, len(exempt)),
		now:     time.Now,
	}
	for _, p := range exempt {
		l.exempt[p] = true
	}
	return l
}

// Run sweeps idle buckets until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Len reports how many clients are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Allow consumes a token for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// retryAfter is the whole number of seconds until one token refills.
func (l *Limiter) retryAfter() int {
	if l.limit <= 0 {
		return 60
	}
	return int(math.Ceil(1 / float64(l.limit)))
}

// Handler rejects requests over the client's budget with 429.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.exempt[r.URL.Path] || l.Allow(realip.GetClientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "Too many requests. Please try again later.",
			},
		})
	})
}
