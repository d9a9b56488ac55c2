package upload

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tutorhive/lesson-publisher/internal/config"
	"github.com/tutorhive/lesson-publisher/internal/types"
)

// S3Uploader stores assets directly in an S3-compatible bucket instead of the
// hosted media endpoints. It satisfies the same Uploader contract, so the
// orchestrator does not care which backend a deployment selects.
type S3Uploader struct {
	client *minio.Client
	bucket string
	useSSL bool
}

// NewS3Uploader creates an uploader backed by a MinIO/S3 bucket and ensures
// the bucket exists.
func NewS3Uploader(cfg config.S3Config) (*S3Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	u := &S3Uploader{client: client, bucket: cfg.Bucket, useSSL: cfg.UseSSL}
	if err := u.ensureBucket(); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return u, nil
}

func (u *S3Uploader) ensureBucket() error {
	ctx := context.Background()

	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Upload writes the blob to the bucket and returns its object URL.
func (u *S3Uploader) Upload(ctx context.Context, kind types.AssetKind, blob *types.Blob, progress func(written, total int64)) (string, error) {
	key := objectKey(kind, blob.ContentType)
	size := blob.Size()
	reader := &progressReader{r: bytes.NewReader(blob.Data), total: size, report: progress}

	_, err := u.client.PutObject(ctx, u.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: blob.ContentType,
	})
	if err != nil {
		return "", classifyTransportError(ctx, kind, err)
	}
	return u.objectURL(key), nil
}

// objectKey creates a unique key with a kind-based folder structure.
func objectKey(kind types.AssetKind, contentType string) string {
	extensions, err := mime.ExtensionsByType(contentType)
	var ext string
	if err == nil && len(extensions) > 0 {
		ext = extensions[0]
	} else {
		switch contentType {
		case "image/jpeg":
			ext = ".jpg"
		case "video/mp4":
			ext = ".mp4"
		case "application/pdf":
			ext = ".pdf"
		}
	}
	return fmt.Sprintf("lessons/%s/%s%s", kind, uuid.New().String(), ext)
}

func (u *S3Uploader) objectURL(key string) string {
	scheme := "http"
	if u.useSSL {
		scheme = "https"
	}
	endpoint := strings.TrimPrefix(u.client.EndpointURL().String(), scheme+"://")
	return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint, u.bucket, key)
}
