package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/smartbin/internal/metrics"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiter decides whether key may make another request inside window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) bool
}

type entry struct {
	count    int
	windowAt time.Time
}

// MemoryRateLimiter is a fixed-window limiter local to the process.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow returns true if the key has not exceeded limit in the given window.
func (rl *MemoryRateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.entries[key]
	if !ok || now.After(e.windowAt) {
		rl.entries[key] = &entry{count: 1, windowAt: now.Add(window)}
		return true
	}
	e.count++
	return e.count <= limit
}

// Cleanup removes expired entries.
func (rl *MemoryRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, e := range rl.entries {
		if now.After(e.windowAt) {
			delete(rl.entries, key)
		}
	}
}

// RedisRateLimiter shares fixed windows between instances. Redis failures
// let the request through.
type RedisRateLimiter struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

func NewRedisRateLimiter(client redis.UniversalClient, logger *slog.Logger) *RedisRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "smartbin:ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

func (rl *RedisRateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logger.Error("rate limiter incr", "key", key, "error", err)
		return true
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			rl.logger.Error("rate limiter expire", "key", key, "error", err)
		}
	}
	return count <= int64(limit)
}

// RateLimit returns middleware that rate-limits requests by a key function.
// route labels the rejection in m, which may be nil.
func RateLimit(limiter RateLimiter, m *metrics.Metrics, route string, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limiter, m, route, keyFunc, limit, window, func(w http.ResponseWriter) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
	})
}

// APIRateLimit is RateLimit for JSON endpoints: rejections carry the
// {"success":false,"message":...} body the API clients expect.
func APIRateLimit(limiter RateLimiter, m *metrics.Metrics, route string, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limiter, m, route, keyFunc, limit, window, func(w http.ResponseWriter) {
		writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
	})
}

func rateLimit(limiter RateLimiter, m *metrics.Metrics, route string, keyFunc func(*http.Request) string, limit int, window time.Duration, reject func(http.ResponseWriter)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + keyFunc(r)
			if !limiter.Allow(key, limit, window) {
				m.RecordRateLimited(route)
				reject(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
