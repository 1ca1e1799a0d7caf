package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/modelhub/modelhub-api/internal/config"
)

// presigner is the part of *minio.Client used here.
type presigner interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// ArtifactStore signs short-lived download URLs for model artifacts kept in
// a MinIO/S3 bucket. The API never streams artifact bytes itself.
type ArtifactStore struct {
	client presigner
	bucket string
	ttl    time.Duration
}

// NewArtifactStore creates the client and ensures the bucket exists.
func NewArtifactStore(ctx context.Context, cfg config.StorageConfig) (*ArtifactStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}
	return newArtifactStore(mc, cfg.Bucket, cfg.URLTTL), nil
}

func newArtifactStore(c presigner, bucket string, ttl time.Duration) *ArtifactStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ArtifactStore{client: c, bucket: bucket, ttl: ttl}
}

// DownloadURL returns a presigned GET URL for key. The browser is told to save
// the object under its base name.
func (s *ArtifactStore) DownloadURL(ctx context.Context, key string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", s.bucket, key, err)
	}
	return u.String(), nil
}
