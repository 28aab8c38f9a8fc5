package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// MinIOConfig holds MinIO connection configuration.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinIOStore keeps artifacts as objects in one bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	log    logrus.FieldLogger
}

// NewMinIOStore creates a MinIO client and ensures the bucket exists.
func NewMinIOStore(cfg MinIOConfig, logger logrus.FieldLogger) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOStore{
		client: mc,
		bucket: cfg.Bucket,
		log:    logger.WithField("component", "archive_minio"),
	}, nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}
	return nil
}

// RemoveNamespace lists every object under prefix and removes them in bulk.
func (s *MinIOStore) RemoveNamespace(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectsCh := make(chan minio.ObjectInfo)
	var listErr error
	go func() {
		defer close(objectsCh)
		opts := minio.ListObjectsOptions{Prefix: objectPrefix(prefix), Recursive: true}
		for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case objectsCh <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	var removeErr error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		s.log.WithError(rerr.Err).WithField("object", rerr.ObjectName).Warn("Failed to remove archive object")
		if removeErr == nil {
			removeErr = rerr.Err
		}
	}

	if listErr != nil {
		return fmt.Errorf("failed to list archive namespace %s: %w", prefix, listErr)
	}
	if removeErr != nil {
		return fmt.Errorf("failed to remove archive namespace %s: %w", prefix, removeErr)
	}
	return nil
}

// objectPrefix ends a namespace with a slash so archives/1 never matches archives/12.
func objectPrefix(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/"
}
