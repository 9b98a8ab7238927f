package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

// DBConfig sizes the call log pool
type DBConfig struct {
	MaxOpenConns       int
	ConnAcquireTimeout time.Duration
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
}

// CallLogPoolConfig is the pool used by the call service and the
// notification worker. Zero maxConns keeps the driver default.
func CallLogPoolConfig(maxConns int) *DBConfig {
	return &DBConfig{
		MaxOpenConns:       maxConns,
		ConnAcquireTimeout: 5 * time.Second,
		ConnMaxLifetime:    time.Hour,
		ConnMaxIdleTime:    5 * time.Minute,
		HealthCheckPeriod:  30 * time.Second,
	}
}

// DB wraps the CockroachDB pool holding call history
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB opens the pool and waits up to ConnAcquireTimeout for a first ping
func NewDB(ctx context.Context, connString string, dbConfig *DBConfig) (*DB, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if dbConfig == nil {
		dbConfig = CallLogPoolConfig(0)
	}

	if dbConfig.MaxOpenConns > 0 {
		config.MaxConns = int32(dbConfig.MaxOpenConns)
	}
	config.MaxConnLifetime = dbConfig.ConnMaxLifetime
	config.MaxConnIdleTime = dbConfig.ConnMaxIdleTime
	config.HealthCheckPeriod = dbConfig.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbConfig.ConnAcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// ReportPoolStats exports pool gauges every interval until ctx is done, so
// they stay current between history requests
func (db *DB) ReportPoolStats(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := db.Pool.Stat()
				metrics.RecordDBConnectionsInUse(int(s.AcquiredConns()))
				metrics.RecordDBConnectionsIdle(int(s.IdleConns()))
			}
		}
	}()
}

// Close closes the pool
func (db *DB) Close() error {
	s := db.Pool.Stat()
	db.Pool.Close()
	logger.Info("Call log pool closed",
		zap.Int64("acquires", s.AcquireCount()),
		zap.Int64("empty_acquires", s.EmptyAcquireCount()))
	return nil
}

// Stats returns pool statistics
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}
