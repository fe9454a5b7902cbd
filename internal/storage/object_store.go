package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore persists exported datasets. Implementations are S3 (or any
// S3-compatible endpoint) and the local filesystem.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	UploadDir(ctx context.Context, bucket, prefix, src string) error

	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error
}

// ParseS3URI splits "s3://bucket/prefix" into bucket and prefix. The prefix
// may be empty.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri || trimmed == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: expected s3://bucket/prefix", uri)
	}

	bucket, prefix, _ = strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: missing bucket", uri)
	}
	return bucket, strings.TrimSuffix(prefix, "/"), nil
}
