package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	jsonwriter "github.com/dellavolpe/rnc-front/internal/json"
	"github.com/dellavolpe/rnc-front/internal/log"
)

const (
	limiterIdleTTL    = 5 * time.Minute
	limiterSweepEvery = time.Minute
)

type limiterBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// ipRateLimiter keeps one token bucket per client IP. Idle buckets are
// swept on access, so no goroutine outlives the server.
type ipRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*limiterBucket
	lastSweep time.Time
}

func newIPRateLimiter(perMinute, burst int) *ipRateLimiter {
	if burst <= 0 {
		burst = max(1, perMinute/4)
	}
	return &ipRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*limiterBucket),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterSweepEvery {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &limiterBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// NewRateLimitMiddleware limits requests matching applies per client IP.
// A non-positive perMinute disables the limit.
func NewRateLimitMiddleware(perMinute int, applies func(*http.Request) bool) MiddlewareFunc {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newIPRateLimiter(perMinute, 0)
	retryAfter := strconv.Itoa(max(1, 60/perMinute))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if applies != nil && !applies(r) {
				next.ServeHTTP(w, r)
				return
			}
			ip := clientIP(r)
			if ip == "" {
				ip = "unknown"
			}
			if !limiter.allow(ip) {
				log.LogWarnCtx(r.Context(), "ratelimit", "Rate limit exceeded", map[string]any{
					"ip":   ip,
					"path": r.URL.Path,
				})
				jsonwriter.WriteTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAuthRequest matches the login start and the provider callback.
func isAuthRequest(r *http.Request) bool {
	if r.URL.Path == "/login" {
		return true
	}
	q := r.URL.Query()
	return q.Has("code") || q.Has("state") || q.Has("error")
}

// clientIP is the peer address. Forwarded headers only count once
// NewRealIPMiddleware has rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewRealIPMiddleware replaces RemoteAddr with the address the nearest
// proxy appended to X-Forwarded-For. Install it only behind a proxy that
// sets the header; earlier entries are client supplied and ignored.
func NewRealIPMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := lastForwardedFor(r.Header.Values("X-Forwarded-For")); ip != "" {
				r.RemoteAddr = net.JoinHostPort(ip, "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func lastForwardedFor(values []string) string {
	if len(values) == 0 {
		return ""
	}
	last := values[len(values)-1]
	if i := strings.LastIndex(last, ","); i >= 0 {
		last = last[i+1:]
	}
	ip := net.ParseIP(strings.TrimSpace(last))
	if ip == nil {
		return ""
	}
	return ip.String()
}
