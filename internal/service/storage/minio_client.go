package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
)

// ObjectStore is the part of the MinIO API the storage service uses
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerHalfOpen
	CircuitBreakerOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerHalfOpen:
		return "half_open"
	case CircuitBreakerOpen:
		return "open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("storage circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxFailures  int
	Timeout      time.Duration
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker settings
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		Timeout:      10 * time.Second,
		ResetTimeout: 30 * time.Second,
	}
}

// MinioClient wraps an ObjectStore with a per-call timeout and a circuit
// breaker. Uploads are not retried: the reader cannot be rewound.
type MinioClient struct {
	store  ObjectStore
	config *CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	lastFailure time.Time
}

// NewMinioClient connects to MinIO at endpoint
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*MinioClient, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return WrapObjectStore(minioClient, DefaultCircuitBreakerConfig()), nil
}

// WrapObjectStore adds the breaker around store
func WrapObjectStore(store ObjectStore, cfg *CircuitBreakerConfig) *MinioClient {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig()
	}
	return &MinioClient{
		store:  store,
		config: cfg,
		now:    time.Now,
		state:  CircuitBreakerClosed,
	}
}

// BucketExists reports whether the bucket exists
func (c *MinioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	var exists bool
	err := c.do(ctx, "bucket_exists", func(ctx context.Context) error {
		var err error
		exists, err = c.store.BucketExists(ctx, bucketName)
		return err
	})
	return exists, err
}

// MakeBucket creates the bucket
func (c *MinioClient) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return c.do(ctx, "make_bucket", func(ctx context.Context) error {
		return c.store.MakeBucket(ctx, bucketName, opts)
	})
}

// PutObject uploads reader as objectName
func (c *MinioClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	var info minio.UploadInfo
	err := c.do(ctx, "put_object", func(ctx context.Context) error {
		var err error
		info, err = c.store.PutObject(ctx, bucketName, objectName, reader, size, opts)
		return err
	})
	return info, err
}

// PresignedGetObject signs a download URL. Signing is local and bypasses the breaker.
func (c *MinioClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	return c.store.PresignedGetObject(ctx, bucketName, objectName, expires, reqParams)
}

// RemoveObject deletes objectName
func (c *MinioClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return c.do(ctx, "remove_object", func(ctx context.Context) error {
		return c.store.RemoveObject(ctx, bucketName, objectName, opts)
	})
}

func (c *MinioClient) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if !c.allow() {
		return ErrCircuitOpen
	}

	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := fn(opCtx); err != nil {
		c.onFailure(op, err)
		return err
	}
	c.onSuccess()
	return nil
}

// allow reports whether a call may proceed, moving an open breaker to half-open
// once ResetTimeout has passed
func (c *MinioClient) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CircuitBreakerOpen {
		return true
	}
	if c.now().Sub(c.lastFailure) >= c.config.ResetTimeout {
		c.state = CircuitBreakerHalfOpen
		logger.Info("MinIO circuit breaker half-open")
		return true
	}
	return false
}

func (c *MinioClient) onSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CircuitBreakerClosed {
		logger.Info("MinIO circuit breaker closed")
	}
	c.failures = 0
	c.state = CircuitBreakerClosed
	c.lastFailure = time.Time{}
}

func (c *MinioClient) onFailure(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.lastFailure = c.now()

	logger.Warn("MinIO operation failed",
		zap.String("operation", op),
		zap.Int("failures", c.failures),
		zap.Error(err))

	if c.state == CircuitBreakerHalfOpen || c.failures >= c.config.MaxFailures {
		c.state = CircuitBreakerOpen
		logger.Error("MinIO circuit breaker opened", zap.Int("failures", c.failures))
	}
}

// ResetCircuitBreaker closes the breaker
func (c *MinioClient) ResetCircuitBreaker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CircuitBreakerClosed
	c.failures = 0
	c.lastFailure = time.Time{}
}

// GetState returns the current circuit breaker state
func (c *MinioClient) GetState() CircuitBreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
