package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/response"
)

// Recovery turns a handler panic into a 500. Hijacked connections such as
// WebSockets are only logged since nothing can be written to them.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.FromContext(c.Request.Context()).Error("Panic recovered",
					zap.Any("panic", p),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				if !c.Writer.Written() {
					response.InternalError(c, "Internal server error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthProbe reports on an optional dependency
type HealthProbe struct {
	Name    string
	Healthy func() bool
}

// HealthCheck answers /health before any other middleware runs. A failing
// probe marks the service degraded but still answers 200, since every probed
// dependency has a local fallback.
func HealthCheck(serviceName string, probes ...HealthProbe) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path != "/health" {
			c.Next()
			return
		}

		status := "healthy"
		deps := make(map[string]string, len(probes))
		for _, p := range probes {
			deps[p.Name] = "up"
			if !p.Healthy() {
				deps[p.Name] = "down"
				status = "degraded"
			}
		}
		body := gin.H{"status": status, "service": serviceName}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}
		c.JSON(http.StatusOK, body)
		c.Abort()
	}
}
