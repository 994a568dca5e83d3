package shield

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Rule limits one endpoint ("METHOD /path") to Max requests per Window and
// client IP.
type Rule struct {
	Max    int
	Window time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

// gcThreshold triggers a sweep of expired buckets.
const gcThreshold = 4096

// RateLimiter is a fixed-window limiter kept in memory. Endpoints without a
// rule, or with Max <= 0, are not limited.
type RateLimiter struct {
	rules   map[string]Rule
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter creates a limiter for rules keyed by "METHOD /path".
func NewRateLimiter(rules map[string]Rule) *RateLimiter {
	return &RateLimiter{rules: rules, now: time.Now, buckets: make(map[string]*bucket)}
}

func (rl *RateLimiter) allow(ip, endpoint string) (bool, time.Duration) {
	rule, ok := rl.rules[endpoint]
	if !ok || rule.Max <= 0 || rule.Window <= 0 {
		return true, 0
	}
	now := rl.now()
	key := ip + " " + endpoint

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.buckets) >= gcThreshold {
		for k, b := range rl.buckets {
			if now.After(b.resetAt) {
				delete(rl.buckets, k)
			}
		}
	}
	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rule.Window)}
		return true, 0
	}
	b.count++
	return b.count <= rule.Max, b.resetAt.Sub(now)
}

// Middleware rejects requests over their rule with 429 and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)
		ok, wait := rl.allow(ip, endpoint)
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		secs := int(wait.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "请求过于频繁，请稍后再试"})
	})
}
