package ratelimit

import (
	"encoding/json"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/tokligence/chatrelay/internal/auth"
	"github.com/tokligence/chatrelay/internal/metrics"
)

// Middleware wraps an HTTP handler with rate limiting.
type Middleware struct {
	limiter *Limiter
	logger  *log.Logger
}

// NewMiddleware creates a new rate limiting middleware.
func NewMiddleware(limiter *Limiter, logger *log.Logger) *Middleware {
	return &Middleware{limiter: limiter, logger: logger}
}

// Wrap applies rate limiting to an HTTP handler. The caller key is the viewer's subject,
// or the client address for anonymous callers, so it must run after the auth middleware.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.limiter.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := KeyFor(r)
		remaining, err := m.limiter.Allow(r.Context(), key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limiter.Burst()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, math.Floor(remaining)))))
		if err != nil {
			metrics.RateLimitHits.Inc()
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: key=%s path=%s", key, r.URL.Path)
			}
			if wait := m.limiter.RetryAfter(remaining); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyFor returns the limiter key for r.
func KeyFor(r *http.Request) string {
	if v := auth.ViewerFrom(r.Context()); !v.Anonymous() {
		return "user:" + v.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
