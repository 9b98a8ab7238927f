package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
	"skillswap-backend/pkg/response"
)

// poolUsageThreshold is the share of acquired connections above which requests
// are shed
const poolUsageThreshold = 0.8

// PoolStatter exposes pgx pool statistics
type PoolStatter interface {
	Stats() *pgxpool.Stat
}

// DBPoolLimiter sheds requests while the CockroachDB pool is nearly exhausted
type DBPoolLimiter struct {
	db PoolStatter
}

// NewDBPoolLimiter creates a new database pool limiter
func NewDBPoolLimiter(db PoolStatter) *DBPoolLimiter {
	return &DBPoolLimiter{db: db}
}

// Middleware returns a Gin middleware for database connection pool protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := dpl.db.Stats()
		acquired := stats.AcquiredConns()
		idle := stats.IdleConns()
		metrics.RecordDBConnectionsInUse(int(acquired))
		metrics.RecordDBConnectionsIdle(int(idle))

		if max := stats.MaxConns(); max > 0 && float64(acquired)/float64(max) >= poolUsageThreshold {
			logger.Warn("Database connection pool exhausted",
				zap.Int32("max_conns", max),
				zap.Int32("acquired_conns", acquired))
			metrics.RecordDBConnectionAcquireTimeout()
			response.Error(c, http.StatusServiceUnavailable, "DB_POOL_EXHAUSTED", "Service temporarily unavailable")
			c.Abort()
			return
		}
		c.Next()
	}
}
