package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"aiprojekt-backend/internal/logger"
)

// Counter counts hits for key within the current fixed window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type visitor struct {
	count       int64
	windowStart time.Time
}

// MemoryCounter keeps per-key windows in process memory. Stop ends its
// cleanup goroutine.
type MemoryCounter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryCounter(window time.Duration) *MemoryCounter {
	c := &MemoryCounter{
		visitors: make(map[string]*visitor),
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	// Cleanup goroutine
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				for key, v := range c.visitors {
					if c.now().Sub(v.windowStart) > window {
						delete(c.visitors, key)
					}
				}
				c.mu.Unlock()
			}
		}
	}()

	return c
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (c *MemoryCounter) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	v, exists := c.visitors[key]
	if !exists || now.Sub(v.windowStart) >= window {
		c.visitors[key] = &visitor{count: 1, windowStart: now}
		return 1, nil
	}
	v.count++
	return v.count, nil
}

// RedisCounter shares windows across instances through INCR/EXPIRE.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.prefix + key
	n, err := c.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", k, err)
	}
	if n == 1 {
		if err := c.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, fmt.Errorf("expire %s: %w", k, err)
		}
	}
	return n, nil
}

type RateLimiter struct {
	counter  Counter
	limit    int
	window   time.Duration
	location *time.Location
}

// NewRateLimiter allows limit requests per window and client. loc is used for
// the timestamp of the 429 error body.
func NewRateLimiter(counter Counter, limit int, window time.Duration, loc *time.Location) *RateLimiter {
	return &RateLimiter{
		counter:  counter,
		limit:    limit,
		window:   window,
		location: loc,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.counter.Incr(r.Context(), clientKey(r), rl.window)
		if err != nil {
			// Fail open: losing the limiter must not take the chat down.
			logger.L.Warn("rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if count > int64(rl.limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", rl.location)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type peerAddrKey struct{}

// PeerAddr records the connection's own remote address before anything
// rewrites RemoteAddr from forwarding headers. It must run ahead of
// chi's RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientKey identifies the caller by the TCP peer, never by headers the
// caller controls.
func clientKey(r *http.Request) string {
	addr, ok := r.Context().Value(peerAddrKey{}).(string)
	if !ok {
		addr = r.RemoteAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
