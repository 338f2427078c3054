package objstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrStorage matches every error returned by this package.
var ErrStorage = errors.New("storage error")

var (
	// ErrNotFound means the bucket or object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrUnsupportedFormat means ReadTable does not know the object's extension.
	ErrUnsupportedFormat = errors.New("unsupported table format")
	// ErrIteratorConsumed means a listing was ranged over a second time.
	ErrIteratorConsumed = errors.New("object iterator already consumed")
	// ErrInvalidExpiry means a presign expiry is outside 1 to 168 hours.
	ErrInvalidExpiry = errors.New("presign expiry must be between 1 and 168 hours")
)

// Operation names reported in OperationError and to the OperationHook.
const (
	OpConnect         = "connect"
	OpListBuckets     = "list_buckets"
	OpBucketExists    = "bucket_exists"
	OpEnsureBucket    = "ensure_bucket"
	OpUploadFile      = "upload_file"
	OpUpload          = "upload"
	OpDownloadFile    = "download_file"
	OpOpen            = "open"
	OpReadTable       = "read_table"
	OpListObjects     = "list_objects"
	OpListAttachments = "list_attachments"
	OpStat            = "stat"
	OpDelete          = "delete"
	OpPresign         = "presign"
)

// ConfigError reports missing or unusable connection settings.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage configuration: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("storage configuration: %s is required", e.Field)
}

func (e *ConfigError) Unwrap() error        { return e.Err }
func (e *ConfigError) Is(target error) bool { return target == ErrStorage }

// ConnectionError reports that the storage endpoint could not be reached.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("storage connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrStorage }

// OperationError reports a failed storage operation.
type OperationError struct {
	Op     string
	Bucket string
	Object string
	Err    error
}

func (e *OperationError) Error() string {
	target := e.Bucket
	if e.Object != "" {
		target += "/" + e.Object
	}
	if target == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s failed: %v", e.Op, target, e.Err)
}

func (e *OperationError) Unwrap() error        { return e.Err }
func (e *OperationError) Is(target error) bool { return target == ErrStorage }

// isConnectivity reports whether err means the endpoint was unreachable.
func isConnectivity(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}

// classify turns a transport error into exactly one of the package's error
// types. Errors that already are one pass through unchanged.
func (m *Manager) classify(op, bucket, object string, err error) error {
	if err == nil {
		return nil
	}
	var (
		cfgErr  *ConfigError
		connErr *ConnectionError
		opErr   *OperationError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &connErr) || errors.As(err, &opErr) {
		return err
	}
	if isConnectivity(err) {
		return &ConnectionError{Endpoint: m.opts.Endpoint, Err: err}
	}
	return &OperationError{Op: op, Bucket: bucket, Object: object, Err: err}
}
