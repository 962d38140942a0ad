package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate describes a token bucket: one token every Every, holding at most Burst.
type Rate struct {
	Every time.Duration
	Burst int
}

// DefaultResolveRate allows a client one batch every 2 seconds with a burst
// of 10. A batch can fan out to dozens of upstream calls.
var DefaultResolveRate = Rate{Every: 2 * time.Second, Burst: 10}

const (
	cleanupInterval = 10 * time.Minute
	staleAfter      = 15 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter provides per-client-IP rate limiting.
type IPRateLimiter struct {
	mu       sync.Mutex
	rate     Rate
	limiters map[string]*ipLimiter
}

// NewIPRateLimiter creates a rate limiter that drops idle clients
// periodically until ctx is done. A nil ctx disables cleanup.
func NewIPRateLimiter(ctx context.Context, r Rate) *IPRateLimiter {
	rl := &IPRateLimiter{
		rate:     r,
		limiters: make(map[string]*ipLimiter),
	}
	if ctx != nil {
		go rl.cleanup(ctx)
	}
	return rl
}

// Middleware returns an HTTP middleware that rate-limits requests by client IP.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfterSeconds(rl.rate.Every))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &ipLimiter{
			limiter: rate.NewLimiter(rate.Every(rl.rate.Every), rl.rate.Burst),
		}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *IPRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune(time.Now())
		}
	}
}

func (rl *IPRateLimiter) prune(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleAfter {
			delete(rl.limiters, ip)
		}
	}
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(max(1, int(d.Round(time.Second)/time.Second)))
}

// clientIP returns the requesting client's address. Forwarding headers are
// honored only when the direct peer is a private address (a reverse proxy);
// for X-Forwarded-For the rightmost entry is the one the proxy appended.
func clientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if !isPrivateIP(remote) {
		return remote
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}
	return remote
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
