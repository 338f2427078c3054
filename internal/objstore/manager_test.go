package objstore_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dellavolpe/rnc-front/internal/objstore"
	"github.com/dellavolpe/rnc-front/internal/testutil"
)

var testOptions = objstore.Options{
	Endpoint:  "minio.test:9000",
	AccessKey: "access",
	SecretKey: "secret",
}

type hookRecorder struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (h *hookRecorder) record(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, op)
	h.errs = append(h.errs, err)
}

func connect(t *testing.T, tr *testutil.MemoryTransport, extra ...objstore.Option) *objstore.Manager {
	t.Helper()
	opts := append([]objstore.Option{objstore.WithTransportFactory(tr.Factory())}, extra...)
	m, err := objstore.Connect(context.Background(), testOptions, opts...)
	require.NoError(t, err)
	return m
}

func TestConnect(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		for _, field := range []string{"endpoint", "accessKey", "secretKey"} {
			opts := testOptions
			switch field {
			case "endpoint":
				opts.Endpoint = ""
			case "accessKey":
				opts.AccessKey = ""
			case "secretKey":
				opts.SecretKey = ""
			}
			_, err := objstore.Connect(context.Background(), opts,
				objstore.WithTransportFactory(testutil.NewMemoryTransport().Factory()))

			var cfgErr *objstore.ConfigError
			require.True(t, errors.As(err, &cfgErr), field)
			assert.Equal(t, field, cfgErr.Field)
			assert.ErrorIs(t, err, objstore.ErrStorage)
		}
	})

	t.Run("probe fails", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		tr.Fail("ListBuckets", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

		_, err := objstore.Connect(context.Background(), testOptions, objstore.WithTransportFactory(tr.Factory()))

		var connErr *objstore.ConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, testOptions.Endpoint, connErr.Endpoint)
		assert.ErrorIs(t, err, objstore.ErrStorage)
	})

	t.Run("factory error is a config error", func(t *testing.T) {
		_, err := objstore.Connect(context.Background(), testOptions,
			objstore.WithTransportFactory(func(objstore.Options) (objstore.Transport, error) {
				return nil, errors.New("bad endpoint")
			}))

		var cfgErr *objstore.ConfigError
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("reconnect is explicit", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)

		tr.Fail("ListBuckets", &url.Error{Op: "Get", URL: "http://minio.test", Err: errors.New("refused")})
		_, err := m.ListBuckets(context.Background())
		var connErr *objstore.ConnectionError
		require.True(t, errors.As(err, &connErr))

		err = m.Reconnect(context.Background())
		require.True(t, errors.As(err, &connErr))

		tr.Fail("ListBuckets", nil)
		require.NoError(t, m.Reconnect(context.Background()))
		_, err = m.ListBuckets(context.Background())
		assert.NoError(t, err)
	})
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing bucket", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)

		path := filepath.Join(t.TempDir(), "relatorio.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

		res, err := m.Upload(ctx, path, "", "rnc-anexos", "")
		require.NoError(t, err)
		assert.True(t, tr.HasBucket("rnc-anexos"))
		assert.Equal(t, "relatorio.pdf", res.ObjectName)
		assert.Equal(t, "rnc-anexos", res.Bucket)
		assert.EqualValues(t, 8, res.Size)
		assert.NotEmpty(t, res.ETag)
		assert.False(t, res.UploadedAt.IsZero())

		info, err := m.Stat(ctx, "rnc-anexos", "relatorio.pdf")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", info.ContentType)
	})

	t.Run("missing local file", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)

		_, err := m.Upload(ctx, filepath.Join(t.TempDir(), "nope.pdf"), "x.pdf", "rnc-anexos", "")

		var opErr *objstore.OperationError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, objstore.OpUploadFile, opErr.Op)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.False(t, tr.HasBucket("rnc-anexos"), "nothing is created when the source is missing")
	})

	t.Run("transport failure", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)
		tr.Fail("PutObject", errors.New("AccessDenied"))

		_, err := m.UploadReader(ctx, strings.NewReader("x"), 1, "1_1.txt", "rnc-anexos", "")

		var opErr *objstore.OperationError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, objstore.OpUpload, opErr.Op)
		assert.Equal(t, "1_1.txt", opErr.Object)
	})
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr := testutil.NewMemoryTransport()
	m := connect(t, tr)

	payload := bytes.Repeat([]byte{0x00, 0xff, 'r', 'n', 'c'}, 1000)
	src := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o600))

	_, err := m.Upload(ctx, src, "dados/in.bin", "bucket", "")
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "nested", "dir", "out.bin")
	res, err := m.Download(ctx, "bucket", "dados/in.bin", dst)
	require.NoError(t, err)
	assert.Equal(t, dst, res.LocalPath)
	assert.EqualValues(t, len(payload), res.Size)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	opened, released := tr.Streams()
	assert.Equal(t, opened, released)
}

func TestDownload_Missing(t *testing.T) {
	tr := testutil.NewMemoryTransport()
	m := connect(t, tr)
	tr.Put("bucket", "other", []byte("x"))

	_, err := m.Download(context.Background(), "bucket", "missing", filepath.Join(t.TempDir(), "out"))

	var opErr *objstore.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, objstore.OpDownloadFile, opErr.Op)
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestListAttachments(t *testing.T) {
	tr := testutil.NewMemoryTransport()
	m := connect(t, tr)
	tr.Put("photos", "123_1.jpg", []byte("a"))
	tr.Put("photos", "123_2.png", []byte("b"))
	tr.Put("photos", "124_1.jpg", []byte("c"))
	tr.Put("photos", "1234_1.jpg", []byte("d"))

	names, err := m.ListAttachments(context.Background(), "photos", "123")
	require.NoError(t, err)
	assert.Equal(t, []string{"123_1.jpg", "123_2.png"}, names)

	names, err = m.ListAttachments(context.Background(), "photos", "999")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListObjects(t *testing.T) {
	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)
		tr.Put("b", "a.txt", nil)
		tr.Put("b", "b.txt", nil)

		it := m.ListObjects(ctx, "b", "", true)
		objs, err := it.Collect()
		require.NoError(t, err)
		assert.Len(t, objs, 2)

		_, err = it.Collect()
		assert.ErrorIs(t, err, objstore.ErrIteratorConsumed)
		assert.ErrorIs(t, err, objstore.ErrStorage)
	})

	t.Run("lazy", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)
		for _, n := range []string{"1", "2", "3", "4"} {
			tr.Put("b", n, nil)
		}

		it := m.ListObjects(ctx, "b", "", true)
		assert.Equal(t, 0, tr.Listed(), "nothing is listed before ranging")

		for range it.All() {
			break
		}
		assert.Equal(t, 1, tr.Listed())
	})

	t.Run("non recursive", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)
		tr.Put("b", "dados/x.parquet", nil)
		tr.Put("b", "top.csv", nil)

		objs, err := m.ListObjects(ctx, "b", "", false).Collect()
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.Equal(t, "top.csv", objs[0].Name)
	})

	t.Run("missing bucket", func(t *testing.T) {
		tr := testutil.NewMemoryTransport()
		m := connect(t, tr)

		_, err := m.ListObjects(ctx, "nope", "", true).Collect()
		var opErr *objstore.OperationError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, objstore.OpListObjects, opErr.Op)
		assert.ErrorIs(t, err, objstore.ErrNotFound)
	})
}

func TestPresign(t *testing.T) {
	ctx := context.Background()
	tr := testutil.NewMemoryTransport()
	m := connect(t, tr)
	tr.Put("rnc-anexos", "7_1.pdf", []byte("%PDF"))

	for _, hours := range []int{0, -1, 169} {
		_, err := m.Presign(ctx, "rnc-anexos", "7_1.pdf", objstore.PresignDownload, hours)
		assert.ErrorIs(t, err, objstore.ErrInvalidExpiry, "hours=%d", hours)
		var opErr *objstore.OperationError
		assert.True(t, errors.As(err, &opErr))
	}

	for _, hours := range []int{1, 168} {
		raw, err := m.Presign(ctx, "rnc-anexos", "7_1.pdf", objstore.PresignDownload, hours)
		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "/rnc-anexos/7_1.pdf", u.Path)
	}

	raw, err := m.Presign(ctx, "rnc-anexos", "7_2.pdf", objstore.PresignUpload, 2)
	require.NoError(t, err)
	assert.Contains(t, raw, "method=PUT")
	assert.Contains(t, raw, "X-Amz-Expires=7200")
}

func TestDeleteAndStat(t *testing.T) {
	ctx := context.Background()
	tr := testutil.NewMemoryTransport()
	m := connect(t, tr)
	tr.Put("b", "x", []byte("data"))

	info, err := m.Stat(ctx, "b", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Size)

	require.NoError(t, m.Delete(ctx, "b", "x"))
	_, err = m.Stat(ctx, "b", "x")
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()
	tr := testutil.NewMemoryTransport()
	m := connect(t, tr)

	ok, err := m.BucketExists(ctx, "novo")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.EnsureBucket(ctx, "novo"))
	require.NoError(t, m.EnsureBucket(ctx, "novo"))

	buckets, err := m.ListBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "novo", buckets[0].Name)
}

func TestOperationHook(t *testing.T) {
	tr := testutil.NewMemoryTransport()
	rec := &hookRecorder{}
	m := connect(t, tr, objstore.WithOperationHook(rec.record))
	tr.Put("b", "x", []byte("d"))

	_, _ = m.Stat(context.Background(), "b", "x")
	_, _ = m.Stat(context.Background(), "b", "missing")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{objstore.OpConnect, objstore.OpStat, objstore.OpStat}, rec.ops)
	assert.NoError(t, rec.errs[1])
	assert.ErrorIs(t, rec.errs[2], objstore.ErrNotFound)
}

func TestErrorClassification(t *testing.T) {
	tr := testutil.NewMemoryTransport()
	m := connect(t, tr)
	ctx := context.Background()

	tests := []struct {
		name     string
		err      error
		wantConn bool
	}{
		{"net error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, true},
		{"url error", &url.Error{Op: "Put", URL: "http://x", Err: errors.New("eof")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"s3 error", errors.New("AccessDenied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr.Fail("StatObject", tt.err)
			defer tr.Fail("StatObject", nil)

			_, err := m.Stat(ctx, "b", "x")
			var connErr *objstore.ConnectionError
			var opErr *objstore.OperationError
			assert.Equal(t, tt.wantConn, errors.As(err, &connErr))
			assert.Equal(t, !tt.wantConn, errors.As(err, &opErr))
			assert.ErrorIs(t, err, objstore.ErrStorage)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
