package testutil

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dellavolpe/rnc-front/internal/objstore"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryTransport is an in-memory objstore.Transport that counts streams.
type MemoryTransport struct {
	mu       sync.Mutex
	buckets  map[string]map[string]memObject
	failures map[string]error
	readErr  error
	opened   int
	released int
	listed   int
}

var _ objstore.Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates an empty transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		buckets:  make(map[string]map[string]memObject),
		failures: make(map[string]error),
	}
}

// Factory returns a TransportFactory that always hands out t.
func (t *MemoryTransport) Factory() objstore.TransportFactory {
	return func(objstore.Options) (objstore.Transport, error) { return t, nil }
}

// Fail makes the named method return err until cleared with a nil err.
func (t *MemoryTransport) Fail(method string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, method)
		return
	}
	t.failures[method] = err
}

// FailReads makes every opened stream return err on Read.
func (t *MemoryTransport) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
}

// Put stores an object directly, creating the bucket.
func (t *MemoryTransport) Put(bucket, object string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buckets[bucket] == nil {
		t.buckets[bucket] = make(map[string]memObject)
	}
	t.buckets[bucket][object] = memObject{data: slices.Clone(data), modified: time.Now()}
}

// Object returns a stored object's bytes.
func (t *MemoryTransport) Object(bucket, object string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.buckets[bucket][object]
	return obj.data, ok
}

// HasBucket reports whether bucket exists.
func (t *MemoryTransport) HasBucket(bucket string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.buckets[bucket]
	return ok
}

// Streams returns how many streams were opened and released.
func (t *MemoryTransport) Streams() (opened, released int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened, t.released
}

// Listed returns how many objects listings have yielded.
func (t *MemoryTransport) Listed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listed
}

func (t *MemoryTransport) failure(method string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[method]
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", objstore.ErrNotFound, fmt.Sprintf(format, args...))
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (t *MemoryTransport) ListBuckets(ctx context.Context) ([]objstore.BucketInfo, error) {
	if err := t.failure("ListBuckets"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]objstore.BucketInfo, 0, len(t.buckets))
	for name := range t.buckets {
		out = append(out, objstore.BucketInfo{Name: name})
	}
	slices.SortFunc(out, func(a, b objstore.BucketInfo) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (t *MemoryTransport) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := t.failure("BucketExists"); err != nil {
		return false, err
	}
	return t.HasBucket(bucket), nil
}

func (t *MemoryTransport) MakeBucket(ctx context.Context, bucket, region string) error {
	if err := t.failure("MakeBucket"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buckets[bucket] == nil {
		t.buckets[bucket] = make(map[string]memObject)
	}
	return nil
}

func (t *MemoryTransport) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) (objstore.ObjectInfo, error) {
	if err := t.failure("PutObject"); err != nil {
		return objstore.ObjectInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[bucket]
	if !ok {
		return objstore.ObjectInfo{}, notFound("bucket %s", bucket)
	}
	now := time.Now()
	b[object] = memObject{data: data, contentType: contentType, modified: now}
	return objstore.ObjectInfo{
		Bucket:       bucket,
		Name:         object,
		Size:         int64(len(data)),
		ETag:         etag(data),
		ContentType:  contentType,
		LastModified: now,
	}, nil
}

type countingReader struct {
	io.Reader
	t    *MemoryTransport
	err  error
	once sync.Once
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.Reader.Read(p)
}

func (c *countingReader) Close() error {
	c.once.Do(func() {
		c.t.mu.Lock()
		c.t.released++
		c.t.mu.Unlock()
	})
	return nil
}

func (t *MemoryTransport) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	if err := t.failure("GetObject"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.buckets[bucket][object]
	if !ok {
		return nil, notFound("%s/%s", bucket, object)
	}
	t.opened++
	return &countingReader{Reader: bytes.NewReader(obj.data), t: t, err: t.readErr}, nil
}

func (t *MemoryTransport) StatObject(ctx context.Context, bucket, object string) (objstore.ObjectInfo, error) {
	if err := t.failure("StatObject"); err != nil {
		return objstore.ObjectInfo{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.buckets[bucket][object]
	if !ok {
		return objstore.ObjectInfo{}, notFound("%s/%s", bucket, object)
	}
	return objstore.ObjectInfo{
		Bucket:       bucket,
		Name:         object,
		Size:         int64(len(obj.data)),
		ETag:         etag(obj.data),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

func (t *MemoryTransport) RemoveObject(ctx context.Context, bucket, object string) error {
	if err := t.failure("RemoveObject"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets[bucket], object)
	return nil
}

func (t *MemoryTransport) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[objstore.ObjectInfo, error] {
	return func(yield func(objstore.ObjectInfo, error) bool) {
		if err := t.failure("ListObjects"); err != nil {
			yield(objstore.ObjectInfo{}, err)
			return
		}

		t.mu.Lock()
		b, ok := t.buckets[bucket]
		if !ok {
			t.mu.Unlock()
			yield(objstore.ObjectInfo{}, notFound("bucket %s", bucket))
			return
		}
		var infos []objstore.ObjectInfo
		for name, obj := range b {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			if !recursive && strings.Contains(strings.TrimPrefix(name, prefix), "/") {
				continue
			}
			infos = append(infos, objstore.ObjectInfo{
				Bucket:       bucket,
				Name:         name,
				Size:         int64(len(obj.data)),
				ETag:         etag(obj.data),
				LastModified: obj.modified,
			})
		}
		t.mu.Unlock()
		slices.SortFunc(infos, func(a, b objstore.ObjectInfo) int { return strings.Compare(a.Name, b.Name) })

		for _, info := range infos {
			t.mu.Lock()
			t.listed++
			t.mu.Unlock()
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (t *MemoryTransport) Presign(ctx context.Context, method objstore.PresignMethod, bucket, object string, expiry time.Duration) (*url.URL, error) {
	if err := t.failure("Presign"); err != nil {
		return nil, err
	}
	u := &url.URL{Scheme: "http", Host: "objstore.test", Path: "/" + bucket + "/" + object}
	q := url.Values{}
	q.Set("X-Amz-Expires", fmt.Sprintf("%d", int(expiry.Seconds())))
	q.Set("method", string(method))
	u.RawQuery = q.Encode()
	return u, nil
}
