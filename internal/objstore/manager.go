package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dellavolpe/rnc-front/internal/log"
)

// MaxPresignHours is the longest validity a presigned URL may have.
const MaxPresignHours = 168

// Options are the connection settings for an object store.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

// OperationHook observes the result of every operation.
type OperationHook func(op string, err error)

// Option configures a Manager.
type Option func(*Manager)

// WithTransportFactory replaces the minio-go transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithOperationHook registers h to observe every operation.
func WithOperationHook(h OperationHook) Option {
	return func(m *Manager) { m.hook = h }
}

// UploadResult describes a completed upload.
type UploadResult struct {
	Bucket     string
	ObjectName string
	Size       int64
	ETag       string
	UploadedAt time.Time
}

// DownloadResult describes a completed download.
type DownloadResult struct {
	Bucket       string
	ObjectName   string
	LocalPath    string
	Size         int64
	DownloadedAt time.Time
}

// Manager is the application's handle on the object store. It is built once
// with Connect and only reconnects when Reconnect is called.
type Manager struct {
	opts    Options
	factory TransportFactory
	hook    OperationHook

	mu        sync.RWMutex
	transport Transport
}

// Connect validates opts, builds the transport and probes the endpoint by
// listing buckets.
func Connect(ctx context.Context, opts Options, options ...Option) (*Manager, error) {
	m := &Manager{opts: opts, factory: NewMinioTransport}
	for _, o := range options {
		o(m)
	}
	if err := m.Reconnect(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (o Options) validate() error {
	switch {
	case o.Endpoint == "":
		return &ConfigError{Field: "endpoint"}
	case o.AccessKey == "":
		return &ConfigError{Field: "accessKey"}
	case o.SecretKey == "":
		return &ConfigError{Field: "secretKey"}
	}
	return nil
}

// Reconnect rebuilds the transport and probes it. The previous transport
// stays in place when the probe fails.
func (m *Manager) Reconnect(ctx context.Context) error {
	err := m.reconnect(ctx)
	m.observe(OpConnect, err)
	return err
}

func (m *Manager) reconnect(ctx context.Context) error {
	if err := m.opts.validate(); err != nil {
		return err
	}
	t, err := m.factory(m.opts)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}
		return &ConfigError{Field: "endpoint", Err: err}
	}
	if _, err := t.ListBuckets(ctx); err != nil {
		return &ConnectionError{Endpoint: m.opts.Endpoint, Err: err}
	}

	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()

	log.LogInfoWithFields("objstore", "Connected to object storage", map[string]any{
		"endpoint": m.opts.Endpoint,
		"secure":   m.opts.Secure,
	})
	return nil
}

func (m *Manager) t() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transport
}

func (m *Manager) observe(op string, err error) {
	if m.hook != nil {
		m.hook(op, err)
	}
}

// fail classifies err, reports it and logs it.
func (m *Manager) fail(op, bucket, object string, err error) error {
	err = m.classify(op, bucket, object, err)
	m.observe(op, err)
	log.LogDebugWithFields("objstore", "Operation failed", map[string]any{
		"op":     op,
		"bucket": bucket,
		"object": object,
		"error":  err.Error(),
	})
	return err
}

// ListBuckets returns every bucket visible to the credentials.
func (m *Manager) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	buckets, err := m.t().ListBuckets(ctx)
	if err != nil {
		return nil, m.fail(OpListBuckets, "", "", err)
	}
	m.observe(OpListBuckets, nil)
	return buckets, nil
}

// BucketExists reports whether bucket exists.
func (m *Manager) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := m.t().BucketExists(ctx, bucket)
	if err != nil {
		return false, m.fail(OpBucketExists, bucket, "", err)
	}
	m.observe(OpBucketExists, nil)
	return ok, nil
}

// EnsureBucket creates bucket if it does not exist yet.
func (m *Manager) EnsureBucket(ctx context.Context, bucket string) error {
	t := m.t()
	ok, err := t.BucketExists(ctx, bucket)
	if err != nil {
		return m.fail(OpEnsureBucket, bucket, "", err)
	}
	if !ok {
		if err := t.MakeBucket(ctx, bucket, m.opts.Region); err != nil {
			return m.fail(OpEnsureBucket, bucket, "", err)
		}
		log.LogInfoWithFields("objstore", "Created bucket", map[string]any{"bucket": bucket})
	}
	m.observe(OpEnsureBucket, nil)
	return nil
}

// Upload sends the local file at filePath to bucket. objectName defaults to
// the file's base name and contentType to one guessed from the extension.
func (m *Manager) Upload(ctx context.Context, filePath, objectName, bucket, contentType string) (*UploadResult, error) {
	if objectName == "" {
		objectName = filepath.Base(filePath)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, m.fail(OpUploadFile, bucket, objectName, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, m.fail(OpUploadFile, bucket, objectName, err)
	}
	if st.IsDir() {
		return nil, m.fail(OpUploadFile, bucket, objectName, fmt.Errorf("%s is a directory", filePath))
	}

	return m.upload(ctx, OpUploadFile, f, st.Size(), objectName, bucket, contentType)
}

// UploadReader sends size bytes from r to bucket.
func (m *Manager) UploadReader(ctx context.Context, r io.Reader, size int64, objectName, bucket, contentType string) (*UploadResult, error) {
	if objectName == "" {
		return nil, m.fail(OpUpload, bucket, objectName, errors.New("object name is required"))
	}
	return m.upload(ctx, OpUpload, r, size, objectName, bucket, contentType)
}

func (m *Manager) upload(ctx context.Context, op string, r io.Reader, size int64, objectName, bucket, contentType string) (*UploadResult, error) {
	if contentType == "" {
		contentType = ContentTypeFor(objectName)
	}
	t := m.t()

	ok, err := t.BucketExists(ctx, bucket)
	if err != nil {
		return nil, m.fail(op, bucket, objectName, err)
	}
	if !ok {
		if err := t.MakeBucket(ctx, bucket, m.opts.Region); err != nil {
			return nil, m.fail(op, bucket, objectName, err)
		}
		log.LogInfoWithFields("objstore", "Created bucket", map[string]any{"bucket": bucket})
	}

	info, err := t.PutObject(ctx, bucket, objectName, r, size, contentType)
	if err != nil {
		return nil, m.fail(op, bucket, objectName, err)
	}
	m.observe(op, nil)

	log.LogInfoCtx(ctx, "objstore", "Uploaded object", map[string]any{
		"bucket": bucket,
		"object": objectName,
		"size":   info.Size,
	})
	return &UploadResult{
		Bucket:     bucket,
		ObjectName: objectName,
		Size:       info.Size,
		ETag:       info.ETag,
		UploadedAt: time.Now(),
	}, nil
}

// Download writes the object to filePath, creating missing directories.
func (m *Manager) Download(ctx context.Context, bucket, objectName, filePath string) (*DownloadResult, error) {
	if filePath == "" {
		filePath = filepath.Base(objectName)
	}
	rc, err := m.t().GetObject(ctx, bucket, objectName)
	if err != nil {
		return nil, m.fail(OpDownloadFile, bucket, objectName, err)
	}
	defer rc.Close()

	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, m.fail(OpDownloadFile, bucket, objectName, err)
		}
	}
	f, err := os.Create(filePath)
	if err != nil {
		return nil, m.fail(OpDownloadFile, bucket, objectName, err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(filePath)
		return nil, m.fail(OpDownloadFile, bucket, objectName, err)
	}
	m.observe(OpDownloadFile, nil)

	return &DownloadResult{
		Bucket:       bucket,
		ObjectName:   objectName,
		LocalPath:    filePath,
		Size:         n,
		DownloadedAt: time.Now(),
	}, nil
}

// Open returns a stream of the object. The caller must close it.
func (m *Manager) Open(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	rc, err := m.t().GetObject(ctx, bucket, objectName)
	if err != nil {
		return nil, m.fail(OpOpen, bucket, objectName, err)
	}
	m.observe(OpOpen, nil)
	return rc, nil
}

// ReadTable reads a .parquet or .csv object into memory.
func (m *Manager) ReadTable(ctx context.Context, objectName, bucket string) (*Table, error) {
	decode, ok := tableDecoders[strings.ToLower(path.Ext(objectName))]
	if !ok {
		return nil, m.fail(OpReadTable, bucket, objectName, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path.Ext(objectName)))
	}

	rc, err := m.t().GetObject(ctx, bucket, objectName)
	if err != nil {
		return nil, m.fail(OpReadTable, bucket, objectName, err)
	}
	defer rc.Close()

	table, err := decode(rc)
	if err != nil {
		return nil, m.fail(OpReadTable, bucket, objectName, err)
	}
	m.observe(OpReadTable, nil)
	return table, nil
}

// ListObjects lists bucket lazily. The returned iterator can be ranged once.
func (m *Manager) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) *ObjectIter {
	return &ObjectIter{
		m:      m,
		bucket: bucket,
		seq:    m.t().ListObjects(ctx, bucket, prefix, recursive),
	}
}

// ListAttachments returns the sorted names of the attachments of recordID,
// which are the objects named "<recordID>_...".
func (m *Manager) ListAttachments(ctx context.Context, bucket, recordID string) ([]string, error) {
	prefix := recordID + "_"
	var names []string
	for obj, err := range m.t().ListObjects(ctx, bucket, prefix, true) {
		if err != nil {
			return nil, m.fail(OpListAttachments, bucket, prefix, err)
		}
		if strings.HasPrefix(obj.Name, prefix) {
			names = append(names, obj.Name)
		}
	}
	m.observe(OpListAttachments, nil)
	slices.Sort(names)
	return names, nil
}

// Stat returns the object's metadata.
func (m *Manager) Stat(ctx context.Context, bucket, objectName string) (*ObjectInfo, error) {
	info, err := m.t().StatObject(ctx, bucket, objectName)
	if err != nil {
		return nil, m.fail(OpStat, bucket, objectName, err)
	}
	m.observe(OpStat, nil)
	return &info, nil
}

// Delete removes the object.
func (m *Manager) Delete(ctx context.Context, bucket, objectName string) error {
	if err := m.t().RemoveObject(ctx, bucket, objectName); err != nil {
		return m.fail(OpDelete, bucket, objectName, err)
	}
	m.observe(OpDelete, nil)
	return nil
}

// Presign returns a URL granting method on the object for expiresHours.
func (m *Manager) Presign(ctx context.Context, bucket, objectName string, method PresignMethod, expiresHours int) (string, error) {
	if expiresHours < 1 || expiresHours > MaxPresignHours {
		return "", m.fail(OpPresign, bucket, objectName, fmt.Errorf("%w: got %d", ErrInvalidExpiry, expiresHours))
	}
	if method != PresignDownload && method != PresignUpload {
		return "", m.fail(OpPresign, bucket, objectName, fmt.Errorf("unknown presign method %q", method))
	}
	u, err := m.t().Presign(ctx, method, bucket, objectName, time.Duration(expiresHours)*time.Hour)
	if err != nil {
		return "", m.fail(OpPresign, bucket, objectName, err)
	}
	m.observe(OpPresign, nil)
	return u.String(), nil
}

// ContentTypeFor guesses a content type from name's extension.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
