package objstore

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioTransport struct {
	client *minio.Client
}

var _ Transport = (*minioTransport)(nil)

// NewMinioTransport creates a Transport backed by minio-go.
func NewMinioTransport(opts Options) (Transport, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, &ConfigError{Field: "endpoint", Err: err}
	}
	return &minioTransport{client: client}, nil
}

// translate maps minio's missing-resource answers onto ErrNotFound.
func translate(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func toObjectInfo(bucket string, info minio.ObjectInfo) ObjectInfo {
	var meta map[string]string
	if len(info.UserMetadata) > 0 {
		meta = make(map[string]string, len(info.UserMetadata))
		for k, v := range info.UserMetadata {
			meta[k] = v
		}
	}
	return ObjectInfo{
		Bucket:       bucket,
		Name:         info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		Metadata:     meta,
	}
}

func (t *minioTransport) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	buckets, err := t.client.ListBuckets(ctx)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]BucketInfo, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, BucketInfo{Name: b.Name, CreatedAt: b.CreationDate})
	}
	return out, nil
}

func (t *minioTransport) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := t.client.BucketExists(ctx, bucket)
	return ok, translate(err)
}

func (t *minioTransport) MakeBucket(ctx context.Context, bucket, region string) error {
	return translate(t.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func (t *minioTransport) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	info, err := t.client.PutObject(ctx, bucket, object, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return ObjectInfo{}, translate(err)
	}
	return ObjectInfo{
		Bucket:       bucket,
		Name:         object,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  contentType,
		LastModified: info.LastModified,
	}, nil
}

func (t *minioTransport) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	obj, err := t.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	// GetObject is lazy; Stat surfaces a missing object before any read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translate(err)
	}
	return obj, nil
}

func (t *minioTransport) StatObject(ctx context.Context, bucket, object string) (ObjectInfo, error) {
	info, err := t.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translate(err)
	}
	return toObjectInfo(bucket, info), nil
}

func (t *minioTransport) RemoveObject(ctx context.Context, bucket, object string) error {
	return translate(t.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}))
}

func (t *minioTransport) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for info := range t.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
			if info.Err != nil {
				yield(ObjectInfo{}, translate(info.Err))
				return
			}
			if !yield(toObjectInfo(bucket, info), nil) {
				return
			}
		}
	}
}

func (t *minioTransport) Presign(ctx context.Context, method PresignMethod, bucket, object string, expiry time.Duration) (*url.URL, error) {
	var (
		u   *url.URL
		err error
	)
	switch method {
	case PresignUpload:
		u, err = t.client.PresignedPutObject(ctx, bucket, object, expiry)
	default:
		u, err = t.client.PresignedGetObject(ctx, bucket, object, expiry, url.Values{})
	}
	return u, translate(err)
}
