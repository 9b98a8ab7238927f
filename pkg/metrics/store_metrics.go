package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "skillswap"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Message index (Cassandra)
var (
	indexQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "message_index",
		Name:      "query_duration_seconds",
		Help:      "Message index query latency by operation and outcome",
		Buckets:   latencyBuckets[:11],
	}, []string{"operation", "table", "status"})

	indexQueryTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "message_index",
		Name:      "query_timeouts_total",
		Help:      "Message index queries that timed out",
	}, []string{"operation", "table"})
)

// Call log pool (CockroachDB)
var (
	callLogPoolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "call_log_pool",
		Name:      "connections",
		Help:      "Call log pool connections by state",
	}, []string{"state"})

	callLogPoolShed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "call_log_pool",
		Name:      "shed_requests_total",
		Help:      "History requests shed because the pool was exhausted",
	})
)

// Handler deadlines
var (
	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "handler",
		Name:      "duration_seconds",
		Help:      "Handler duration under the request deadline",
		Buckets:   latencyBuckets,
	}, []string{"method", "path", "status"})

	handlerTimeouts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "handler",
		Name:      "timeout_seconds",
		Help:      "Elapsed time of handlers that hit their deadline",
		Buckets:   latencyBuckets,
	}, []string{"method", "path"})
)

// Rate limit counter backend
var (
	rateLimitFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "local_fallback_total",
		Help:      "Token requests counted in process because Redis was unavailable",
	})

	rateLimitRedisUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "redis_up",
		Help:      "1 when the last rate limit check reached Redis",
	})
)

// RecordCassandraQuery records a message index query outcome and latency
func RecordCassandraQuery(operation, table, status string, duration time.Duration) {
	indexQueryDuration.WithLabelValues(operation, table, status).Observe(duration.Seconds())
}

// RecordCassandraQueryTimeout records a message index query timeout
func RecordCassandraQueryTimeout(operation, table string) {
	indexQueryTimeouts.WithLabelValues(operation, table).Inc()
}

// RecordDBConnectionsInUse sets the number of call log connections in use
func RecordDBConnectionsInUse(count int) {
	callLogPoolConns.WithLabelValues("in_use").Set(float64(count))
}

// RecordDBConnectionsIdle sets the number of idle call log connections
func RecordDBConnectionsIdle(count int) {
	callLogPoolConns.WithLabelValues("idle").Set(float64(count))
}

// RecordDBConnectionAcquireTimeout records a request shed by the pool limiter
func RecordDBConnectionAcquireTimeout() {
	callLogPoolShed.Inc()
}

// RecordRequestTimeout records a handler that ran past its deadline
func RecordRequestTimeout(_ time.Duration, elapsed time.Duration, method, path string) {
	handlerTimeouts.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RecordRequestDuration records a handler that finished in time
func RecordRequestDuration(duration time.Duration, method, path, status string) {
	handlerDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordRedisFallbackHit records a token request counted without Redis
func RecordRedisFallbackHit() {
	rateLimitFallbacks.Inc()
	rateLimitRedisUp.Set(0)
}

// RecordRedisAvailable records whether the rate limit counter reached Redis
func RecordRedisAvailable(available bool) {
	if available {
		rateLimitRedisUp.Set(1)
	} else {
		rateLimitRedisUp.Set(0)
	}
}
