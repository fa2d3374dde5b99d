package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	// DefaultPageSize is the listing capacity used when Config.PageSize is unset.
	DefaultPageSize = 1000
	// DefaultProgressStride is the byte distance between copy progress reports.
	DefaultProgressStride = 64 * 1024 * 1024

	// maxSingleCopySize is the largest source a server-side CopyObject accepts.
	maxSingleCopySize = 5 * 1024 * 1024 * 1024

	storageClassHeader = "X-Amz-Storage-Class"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider       string
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	PageSize       int
	ProgressStride int64
}

// CopyRequest describes a server-side copy between buckets.
type CopyRequest struct {
	SrcBucket       string
	SrcKey          string
	DstBucket       string
	DstKey          string
	Metadata        map[string]string
	ReplaceMetadata bool
	StorageClass    string
}

// ProgressFunc receives the cumulative number of bytes copied so far. It may
// be invoked from a goroutine owned by the client. minio drains the progress
// reader only once a single-request copy has succeeded, so objects up to
// 5 GiB report in one burst at the end; larger objects report per part.
type ProgressFunc func(bytesSoFar int64)

// Client represents the capabilities the archive workflow expects.
type Client interface {
	// HeadMetadata returns the user metadata of an object with lowercased keys.
	HeadMetadata(ctx context.Context, bucket, key string) (map[string]string, error)
	// ListKeys returns at most one page of keys and reports whether more exist.
	ListKeys(ctx context.Context, bucket string) (keys []string, truncated bool, err error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, req CopyRequest, onProgress ProgressFunc) error
	Delete(ctx context.Context, bucket, key string) error
	Close() error
}

// New creates an object store client based on the given configuration.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "minio", "s3":
		return newMinioClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

type minioClient struct {
	client         *minio.Client
	pageSize       int
	progressStride int64
}

func newMinioClient(cfg Config) (Client, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	stride := cfg.ProgressStride
	if stride <= 0 {
		stride = DefaultProgressStride
	}
	return &minioClient{client: cl, pageSize: pageSize, progressStride: stride}, nil
}

func (m *minioClient) HeadMetadata(ctx context.Context, bucket, key string) (map[string]string, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, err
	}
	return normalizeMetadata(info.UserMetadata), nil
}

func (m *minioClient) ListKeys(ctx context.Context, bucket string) ([]string, bool, error) {
	// Cancelling stops the listing goroutine once one key past the page is seen.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make([]string, 0, m.pageSize)
	objects := m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Recursive: true,
		MaxKeys:   m.pageSize,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, false, obj.Err
		}
		if len(keys) == m.pageSize {
			return keys, true, nil
		}
		keys = append(keys, obj.Key)
	}
	return keys, false, nil
}

func (m *minioClient) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

func (m *minioClient) Copy(ctx context.Context, req CopyRequest, onProgress ProgressFunc) error {
	if req.StorageClass != "" && !req.ReplaceMetadata {
		// The storage class travels with the replaced metadata headers.
		return fmt.Errorf("storage class %q requires metadata replacement", req.StorageClass)
	}

	info, err := m.client.StatObject(ctx, req.SrcBucket, req.SrcKey, minio.StatObjectOptions{})
	if err != nil {
		return fmt.Errorf("stat copy source: %w", err)
	}

	meta := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.StorageClass != "" {
		meta[storageClassHeader] = req.StorageClass
	}

	dst := minio.CopyDestOptions{
		Bucket:          req.DstBucket,
		Object:          req.DstKey,
		UserMetadata:    meta,
		ReplaceMetadata: req.ReplaceMetadata,
	}
	if onProgress != nil {
		dst.Progress = newProgressReader(info.Size, m.progressStride, onProgress)
		dst.Size = info.Size
	}
	src := minio.CopySrcOptions{Bucket: req.SrcBucket, Object: req.SrcKey}

	if info.Size > maxSingleCopySize {
		_, err = m.client.ComposeObject(ctx, dst, src)
	} else {
		_, err = m.client.CopyObject(ctx, dst, src)
	}
	return err
}

func (m *minioClient) Delete(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (m *minioClient) Close() error {
	return nil
}

func normalizeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
