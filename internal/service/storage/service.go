// Package storage keeps chat attachments in MinIO.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/constants"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
)

// DownloadURLTTL is the lifetime of the signed attachment URL stored in a message.
// Seven days is the longest expiry S3 signatures allow.
const DownloadURLTTL = 7 * 24 * time.Hour

// Service uploads chat attachments
type Service struct {
	store  ObjectStore
	bucket string
}

// NewService creates the service, creating bucketName when missing
func NewService(ctx context.Context, store ObjectStore, bucketName string) (*Service, error) {
	exists, err := store.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := store.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created attachment bucket", zap.String("bucket", bucketName))
	}

	return &Service{store: store, bucket: bucketName}, nil
}

// Upload stores an attachment for the conversation pairID
func (s *Service) Upload(ctx context.Context, pairID, fileName, contentType string, r io.Reader, size int64) (*domain.UploadResult, error) {
	if size <= 0 {
		return nil, apperrors.ValidationError("file is empty")
	}
	if size > constants.MaxAttachmentSize {
		return nil, apperrors.ValidationError(fmt.Sprintf("file exceeds %d bytes", constants.MaxAttachmentSize))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := objectKey(pairID, fileName)
	_, err := s.store.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"file-name": fileName},
	})
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	u, err := s.store.PresignedGetObject(ctx, s.bucket, key, DownloadURLTTL, nil)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	return &domain.UploadResult{
		URL:          u.String(),
		ObjectKey:    key,
		ResourceType: domain.ResourceTypeFor(contentType),
		ContentType:  contentType,
		Size:         size,
	}, nil
}

// Delete removes an uploaded object
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.StorageError(err)
	}
	return nil
}

func objectKey(pairID, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(fileName)))
	return fmt.Sprintf("chats/%s/%s%s", pairID, uuid.NewString(), ext)
}
