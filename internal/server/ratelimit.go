package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterMaxIdle       = 10 * time.Minute
)

// bucket is a token bucket refilled at rate tokens per second up to burst.
// Callers hold clientLimiter.mu.
type bucket struct {
	last   time.Time
	tokens float64
}

// clientLimiter rate limits requests per client address.
type clientLimiter struct {
	now       func() time.Time
	lastSweep time.Time
	buckets   map[string]*bucket
	rate      float64
	burst     int
	mu        sync.Mutex
}

func newClientLimiter(rate float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		now:       time.Now,
		lastSweep: time.Now(),
		buckets:   make(map[string]*bucket),
		rate:      rate,
		burst:     burst,
	}
}

// allow takes a token for client. When none is left it returns false and
// how long until the next token arrives.
func (l *clientLimiter) allow(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterSweepInterval {
		l.sweepLocked(now)
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{tokens: float64(l.burst), last: now}
		l.buckets[client] = b
	}

	b.tokens = min(b.tokens+now.Sub(b.last).Seconds()*l.rate, float64(l.burst))
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

func (l *clientLimiter) sweepLocked(now time.Time) {
	for client, b := range l.buckets {
		if now.Sub(b.last) > limiterMaxIdle {
			delete(l.buckets, client)
		}
	}
	l.lastSweep = now
}

func (l *clientLimiter) clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit limits each client to rate requests per second with the given
// burst. Clients are keyed by RemoteAddr without the port, which RealIP has
// already rewritten when a proxy header is present. A rate of zero or less
// disables limiting.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	if rate <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return rateLimit(newClientLimiter(rate, burst))
}

func rateLimit(limiter *clientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			ok, wait := limiter.allow(client)
			if !ok {
				log.Warn().Str("client", client).Str("path", r.URL.Path).Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(max(int(math.Ceil(wait.Seconds())), 1)))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
