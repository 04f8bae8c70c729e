package handler

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (v *visitor) touch(t time.Time) {
	v.mu.Lock()
	v.lastSeen = t
	v.mu.Unlock()
}

func (v *visitor) idleSince(t time.Time) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return t.Sub(v.lastSeen)
}

// RateLimiter tracks per-IP rate limits using token buckets.
type RateLimiter struct {
	visitors sync.Map
	rate     rate.Limit
	burst    int
	done     chan struct{}
}

// NewRateLimiter creates a rate limiter that allows r requests per second with
// the given burst size. It starts a background goroutine that evicts stale
// entries every 10 minutes.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:  r,
		burst: burst,
		done:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now()
	v, loaded := rl.visitors.LoadOrStore(ip, &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst), lastSeen: now})
	vis := v.(*visitor)
	if loaded {
		vis.touch(now)
	}
	return vis.limiter
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.visitors.Range(func(key, value any) bool {
				v := value.(*visitor)
				if v.idleSince(time.Now()) > 10*time.Minute {
					rl.visitors.Delete(key)
				}
				return true
			})
		case <-rl.done:
			return
		}
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// Rate returns the rate limit (tokens per second).
func (rl *RateLimiter) Rate() rate.Limit {
	return rl.rate
}

// Burst returns the maximum burst size.
func (rl *RateLimiter) Burst() int {
	return rl.burst
}

// Get returns the rate.Limiter for the given IP, creating one if needed.
func (rl *RateLimiter) Get(ip string) *rate.Limiter {
	return rl.getLimiter(ip)
}

// clientIP strips the port from RemoteAddr so every connection from a host
// shares one bucket. chi's RealIP middleware has already applied proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware returns an HTTP middleware that rate-limits by client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientIP(r)).Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
