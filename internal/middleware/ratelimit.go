package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// TokenBucketLimiter is a simple refill-on-demand token bucket.
type TokenBucketLimiter struct {
	capacity   int
	tokens     int
	refillRate time.Duration
	mu         sync.Mutex
	lastRefill time.Time
}

func NewTokenBucketLimiter(capacity int, refillRate time.Duration) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tbl *TokenBucketLimiter) Allow() bool {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	tbl.refill()

	if tbl.tokens > 0 {
		tbl.tokens--
		return true
	}

	return false
}

func (tbl *TokenBucketLimiter) refill() {
	now := time.Now()
	tokensToAdd := int(now.Sub(tbl.lastRefill) / tbl.refillRate)

	if tokensToAdd > 0 {
		tbl.tokens = min(tbl.tokens+tokensToAdd, tbl.capacity)
		tbl.lastRefill = now
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// IPRateLimiter keeps one token bucket per client IP. It protects the OTP
// endpoints against a single client cycling through phone numbers, which the
// per-phone resend cooldown cannot catch.
type IPRateLimiter struct {
	limiters   map[string]*TokenBucketLimiter
	mu         sync.RWMutex
	capacity   int
	refillRate time.Duration
}

func NewIPRateLimiter(capacity int, refillRate time.Duration) *IPRateLimiter {
	irl := &IPRateLimiter{
		limiters:   make(map[string]*TokenBucketLimiter),
		capacity:   capacity,
		refillRate: refillRate,
	}

	go irl.cleanup()

	return irl
}

func (irl *IPRateLimiter) GetLimiter(ip string) *TokenBucketLimiter {
	irl.mu.RLock()
	limiter, exists := irl.limiters[ip]
	irl.mu.RUnlock()

	if exists {
		return limiter
	}

	irl.mu.Lock()
	defer irl.mu.Unlock()

	limiter, exists = irl.limiters[ip]
	if !exists {
		limiter = NewTokenBucketLimiter(irl.capacity, irl.refillRate)
		irl.limiters[ip] = limiter
	}

	return limiter
}

func (irl *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		irl.mu.Lock()
		for ip, limiter := range irl.limiters {
			limiter.mu.Lock()
			idle := time.Since(limiter.lastRefill) > time.Hour
			limiter.mu.Unlock()
			if idle {
				delete(irl.limiters, ip)
			}
		}
		irl.mu.Unlock()
	}
}

// Middleware rejects requests over the per-IP budget with 429.
func (irl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !irl.GetLimiter(ip).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"Too many requests. Please slow down."}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
