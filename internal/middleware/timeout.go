package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
	"skillswap-backend/pkg/response"
)

// DefaultRequestTimeout applies when no per-route override is set
const DefaultRequestTimeout = 30 * time.Second

// TimeoutMiddleware bounds each request's context
type TimeoutMiddleware struct {
	timeout time.Duration
}

// NewTimeoutMiddleware creates a new timeout middleware. A zero timeout uses
// DefaultRequestTimeout.
func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &TimeoutMiddleware{timeout: timeout}
}

// Middleware returns a Gin middleware for timeout protection
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timeout := tm.timeout
		if override, ok := c.Get("timeout_override"); ok {
			if d, ok := override.(time.Duration); ok {
				timeout = d
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if ctx.Err() == context.DeadlineExceeded {
			metrics.RecordRequestTimeout(timeout, duration, c.Request.Method, c.FullPath())
			logger.Warn("Request timed out",
				zap.Duration("timeout", timeout),
				zap.Duration("duration", duration),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path))
			if !c.Writer.Written() {
				response.Error(c, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timeout")
			}
			c.Abort()
			return
		}
		metrics.RecordRequestDuration(duration, c.Request.Method, c.FullPath(), strconv.Itoa(c.Writer.Status()))
	}
}

// SetTimeoutOverride sets a per-route timeout. It must run before the timeout
// middleware.
func SetTimeoutOverride(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("timeout_override", timeout)
		c.Next()
	}
}
