package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/config"
	"github.com/dharsanguruparan/ChartDrop/internal/metrics"
	"github.com/dharsanguruparan/ChartDrop/internal/model"
)

// Storage wraps MinIO/S3 interactions for clinical file objects.
type Storage struct {
	client *minio.Client
	bucket string
	region string
	log    zerolog.Logger
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config, log zerolog.Logger) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.S3Bucket,
		region: cfg.S3Region,
		log:    log.With().Str("component", "s3-storage").Logger(),
	}, nil
}

// EnsureBucket makes sure the bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
		s.log.Info().Str("bucket", s.bucket).Msg("bucket created")
	}
	return nil
}

// PresignPut returns a URL the client PUTs the bytes to.
func (s *Storage) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	start := time.Now()
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	metrics.RecordStorageOperation("presign_put", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return u.String(), nil
}

// PresignGet returns a signed view URL for the object.
func (s *Storage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	start := time.Now()
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	metrics.RecordStorageOperation("presign_get", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

// PresignDownload is PresignGet with an attachment disposition for filename.
func (s *Storage) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

// Stat returns object metadata, or model.ErrObjectNotFound.
func (s *Storage) Stat(ctx context.Context, key string) (model.ObjectInfo, error) {
	start := time.Now()
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordStorageOperation("stat", "not_found", time.Since(start).Seconds())
			return model.ObjectInfo{}, fmt.Errorf("%w: %s", model.ErrObjectNotFound, key)
		}
		metrics.RecordStorageOperation("stat", "error", time.Since(start).Seconds())
		return model.ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	metrics.RecordStorageOperation("stat", "success", time.Since(start).Seconds())
	return model.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Open streams the object bytes.
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

// Remove deletes the object. S3 treats a missing key as success.
func (s *Storage) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	metrics.RecordStorageOperation("remove", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
