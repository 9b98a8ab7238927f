package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"skillswap-backend/pkg/metrics"
)

// DefaultCassandraQueryTimeout is the default timeout for Cassandra queries
const DefaultCassandraQueryTimeout = 5 * time.Second

// CassandraDB wraps the gocql Session with context support
type CassandraDB struct {
	Session *gocql.Session
}

// CassandraConfig holds Cassandra connection configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// NewCassandraDB creates a session with quorum consistency
func NewCassandraDB(config *CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = gocql.Quorum

	if config.Timeout > 0 {
		cluster.Timeout = config.Timeout
	} else {
		cluster.Timeout = DefaultCassandraQueryTimeout
	}

	if config.Username != "" && config.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

// Close closes the Cassandra session
func (c *CassandraDB) Close() {
	c.Session.Close()
}

// QueryWithContext binds stmt to ctx so cancellation aborts the query
func (c *CassandraDB) QueryWithContext(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...).WithContext(ctx)
}

// ExecBatch runs the statements as one logged batch and records the outcome
// under operation and table
func (c *CassandraDB) ExecBatch(ctx context.Context, operation, table string, stmt string, rows [][]interface{}) error {
	batch := c.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, values := range rows {
		batch.Query(stmt, values...)
	}

	start := time.Now()
	err := c.Session.ExecuteBatch(batch)
	ObserveCassandra(operation, table, start, err)
	return err
}

// ObserveCassandra records a query outcome
func ObserveCassandra(operation, table string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
			metrics.RecordCassandraQueryTimeout(operation, table)
		}
	}
	metrics.RecordCassandraQuery(operation, table, status, time.Since(start))
}
