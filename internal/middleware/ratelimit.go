package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"skillswap-backend/internal/database"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
	"skillswap-backend/pkg/response"
)

// WindowCounter counts hits in a fixed window keyed by caller
type WindowCounter interface {
	SafeIncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	IsDegraded() bool
}

var _ WindowCounter = (*database.RedisClient)(nil)

// RateLimiter limits requests per user (or per IP when unauthenticated) with a
// Redis fixed window. While Redis is degraded it falls back to per-process
// token buckets.
type RateLimiter struct {
	counter  WindowCounter
	requests int
	window   time.Duration
	fallback *localLimiter
}

// NewRateLimiter creates a new rate limiter. counter may be nil, in which case
// only the in-memory limiter is used.
func NewRateLimiter(counter WindowCounter, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter:  counter,
		requests: requests,
		window:   window,
		fallback: newLocalLimiter(requests, window),
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if uid := UserID(c); uid != "" {
			identifier = "user:" + uid
		}

		allowed, remaining, reset := rl.check(c.Request.Context(), identifier)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			response.TooManyRequests(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, identifier string) (bool, int, time.Time) {
	if rl.counter != nil && !rl.counter.IsDegraded() {
		count, ttl, err := rl.counter.SafeIncrWindow(ctx, fmt.Sprintf("ratelimit:%s", identifier), rl.window)
		if err == nil {
			metrics.RecordRedisAvailable(true)
			remaining := rl.requests - int(count)
			if remaining < 0 {
				remaining = 0
			}
			if ttl <= 0 {
				ttl = rl.window
			}
			return count <= int64(rl.requests), remaining, time.Now().Add(ttl)
		}
		logger.Warn("Redis rate limit check failed, using in-memory limiter",
			zap.String("identifier", identifier),
			zap.Error(err))
	}

	if rl.counter != nil {
		metrics.RecordRedisFallbackHit()
	}
	return rl.fallback.allow(identifier)
}

type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
	window   time.Duration
}

func newLocalLimiter(requests int, window time.Duration) *localLimiter {
	if requests < 1 {
		requests = 1
	}
	return &localLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		window:   window,
	}
}

func (l *localLimiter) allow(identifier string) (bool, int, time.Time) {
	l.mu.Lock()
	lim, ok := l.limiters[identifier]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[identifier] = lim
	}
	l.mu.Unlock()

	allowed := lim.Allow()
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, time.Now().Add(l.window)
}
