// Package ratelimit throttles webhook callers per client IP so a misbehaving
// form provider cannot flood the lead queue.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"leadpipe/pkg/metrics"
)

type RateLimitConfig struct {
	Enabled         bool
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:         true,
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// registry holds one token bucket per client IP.
type registry struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
}

func newRegistry(rps float64, burst int) *registry {
	if burst < 1 {
		burst = 1
	}
	return &registry{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

func (r *registry) limiter(ip string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// sweep forgets clients idle for longer than maxAge.
func (r *registry) sweep(now time.Time, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for ip, c := range r.clients {
		if now.Sub(c.lastSeen) > maxAge {
			delete(r.clients, ip)
			removed++
		}
	}
	return removed
}

func (r *registry) sweepEvery(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(now, maxAge)
		}
	}
}

// RateLimitMiddleware limits each client IP independently. Preflight
// requests are never counted. The sweeper stops when ctx is done.
func RateLimitMiddleware(ctx context.Context, config RateLimitConfig) gin.HandlerFunc {
	if !config.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	clients := newRegistry(config.RPS, config.Burst)
	go clients.sweepEvery(ctx, config.CleanupInterval, config.MaxAge)

	limitHeader := strconv.Itoa(int(math.Ceil(config.RPS)))

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		now := time.Now()
		limiter := clients.limiter(c.ClientIP(), now)
		c.Header("X-RateLimit-Limit", limitHeader)

		reservation := limiter.ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
			retryAfter := 1
			if reservation.OK() {
				retryAfter = int(math.Ceil(delay.Seconds()))
			}
			reservation.CancelAt(now)
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":     "error",
				"message":    "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		remaining := int(limiter.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
