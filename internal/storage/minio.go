package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/satindergrewal/layerdaw/internal/logger"
)

// MinioStore keeps blobs as objects in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// MinioOptions configures NewMinioStore.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects to MinIO and creates the bucket if needed.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
		logger.Info("Created blob bucket", logger.String("bucket", opts.Bucket))
	}

	logger.Info("MinIO blob store connected", logger.String("endpoint", opts.Endpoint), logger.String("bucket", opts.Bucket))
	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

func (m *MinioStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(data),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

func (m *MinioStore) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, loadError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, loadError(key, err)
	}
	return data, nil
}

func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return deleteError(key, err)
	}
	return nil
}

func noSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// loadError maps a missing object onto ErrNotFound.
func loadError(key string, err error) error {
	if noSuchKey(err) {
		return fmt.Errorf("load %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("get object %s: %w", key, err)
}

// deleteError treats a missing object as already deleted.
func deleteError(key string, err error) error {
	if noSuchKey(err) {
		return nil
	}
	return fmt.Errorf("remove object %s: %w", key, err)
}

func contentType(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return "audio/wav"
	}
	return "application/octet-stream"
}
