package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aggregated ticks from the database to cold storage.
type Archiver interface {
	// ArchiveTicks uploads all ticks with timestamp strictly before the
	// cutoff and returns how many were archived. It does not delete them;
	// deletion is a separate step taken only after the upload succeeded.
	ArchiveTicks(ctx context.Context, before int64) (int64, error)
}
