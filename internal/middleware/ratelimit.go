package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter throttles webhook callers with one token bucket per client
// address. Buckets idle longer than idleTTL are swept when the table fills.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64 // tokens per second
	burst      float64
	maxBuckets int
	idleTTL    time.Duration
	now        func() time.Time
}

type bucket struct {
	tokens    float64
	updatedAt time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second per
// client with the given burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		burst:      float64(burst),
		maxBuckets: 50000,
		idleTTL:    10 * time.Minute,
		now:        time.Now,
	}
}

// Handler returns HTTP middleware enforcing the limit. Throttled callers get
// 429 with a plain text body and Retry-After.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait, ok := rl.take(clientAddr(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take consumes one token for key. When none is available it returns the
// time until the next token.
func (rl *RateLimiter) take(key string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.maxBuckets {
			rl.sweep(now)
		}
		if len(rl.buckets) >= rl.maxBuckets {
			return time.Second, false
		}
		rl.buckets[key] = &bucket{tokens: rl.burst - 1, updatedAt: now}
		return 0, true
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.updatedAt).Seconds()*rl.rate)
	b.updatedAt = now
	if b.tokens < 1 {
		return time.Duration((1 - b.tokens) / rl.rate * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rl.idleTTL)
	for k, b := range rl.buckets {
		if b.updatedAt.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientAddr returns the peer address. Forwarding headers are ignored since
// callers can set them freely.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
