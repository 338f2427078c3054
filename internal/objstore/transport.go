package objstore

import (
	"context"
	"io"
	"iter"
	"net/url"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket       string
	Name         string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// BucketInfo describes a bucket.
type BucketInfo struct {
	Name      string
	CreatedAt time.Time
}

// PresignMethod selects what a presigned URL allows.
type PresignMethod string

const (
	PresignDownload PresignMethod = "GET"
	PresignUpload   PresignMethod = "PUT"
)

// Transport is the raw object storage API the Manager drives. Errors for
// missing buckets or objects wrap ErrNotFound.
type Transport interface {
	ListBuckets(ctx context.Context) ([]BucketInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) (ObjectInfo, error)
	// GetObject opens a stream the caller must close.
	GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, object string) (ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, object string) error
	// ListObjects starts listing only when the sequence is ranged over.
	ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error]
	Presign(ctx context.Context, method PresignMethod, bucket, object string, expiry time.Duration) (*url.URL, error)
}

// TransportFactory builds a Transport from connection options.
type TransportFactory func(opts Options) (Transport, error)
