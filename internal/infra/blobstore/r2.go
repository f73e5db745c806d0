package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yanqian/truthcard/internal/domain/session"
)

const multipartThreshold = 5 << 20

// R2 stores screenshots and exported cards in Cloudflare R2 or any other
// S3 compatible endpoint.
type R2 struct {
	client *minio.Client
	bucket string
	ready  atomic.Bool
	logger *slog.Logger
}

// NewR2 builds the adapter. The bucket is created lazily on first write.
func NewR2(endpoint, accessKey, secretKey, bucket, region string, logger *slog.Logger) (*R2, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("r2 bucket is required")
	}
	client, err := minio.New(sanitizeEndpoint(endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       !strings.HasPrefix(strings.ToLower(strings.TrimSpace(endpoint)), "http://"),
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init r2 client: %w", err)
	}
	return &R2{client: client, bucket: bucket, logger: logger.With("component", "blobstore.r2")}, nil
}

func (s *R2) ensureBucket(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err == nil && exists {
		s.ready.Store(true)
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket ready", "bucket", s.bucket)
	s.ready.Store(true)
	return nil
}

// Put uploads data under key.
func (s *R2) Put(ctx context.Context, key string, data []byte, mimeType string) (session.StoredObject, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return session.StoredObject{}, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      mimeType,
		DisableMultipart: len(data) < multipartThreshold,
	})
	if err != nil {
		return session.StoredObject{}, fmt.Errorf("put %s: %w", key, err)
	}
	return session.StoredObject{Key: key, Size: info.Size, MimeType: mimeType, ETag: info.ETag}, nil
}

// Delete removes key.
func (s *R2) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

var _ session.ObjectStorage = (*R2)(nil)

// sanitizeEndpoint strips the scheme and any path, as minio.New expects a bare host.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.Index(raw, "/"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
