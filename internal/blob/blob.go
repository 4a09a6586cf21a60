// Package blob stores the tabular snapshots each pipeline stage writes:
// curated/<run>/<Level>.csv after Extract and processed/<run>/<table>.csv after
// Transform. Keys are slash separated and never begin with "/".
//
// The semantics mirror a small subset of S3 so the filesystem and memory
// drivers can emulate the S3 driver closely.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-process, tests and dry runs
)

// PutOptions configures a write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is implemented by every driver.
type Store interface {
	// Put writes r to key, replacing any previous content. Readers never
	// observe a partially written blob.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the blob contents. A missing key yields an error matching ErrNotFound.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Head returns metadata only.
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes a blob. Returns (false, nil) if it did not exist.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ErrNotFound is matched by errors.Is for a missing key on every driver.
var ErrNotFound = errors.New("blob: not found")

// ContentTypeCSV is attached to every tabular snapshot.
const ContentTypeCSV = "text/csv; charset=utf-8"

func cloneMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
