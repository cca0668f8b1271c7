package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// minPartSize is the S3 minimum multipart part size (5 MiB). Smaller
// requested part sizes are clamped up to it.
const minPartSize int64 = 5 << 20

// Writer implements domain.BlobWriter against the client's bucket.
type Writer struct {
	api      *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter creates a Writer. The multipart uploader is built once and
// shared; per-call part sizes are applied as upload options.
func NewWriter(c *Client) *Writer {
	return &Writer{
		api:      c.API(),
		bucket:   c.Bucket(),
		uploader: manager.NewUploader(c.API()),
	}
}

// Put uploads data in a single PutObject request. Use it for payloads that
// comfortably fit one request; larger ones go through PutMultipart.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data through the SDK's upload manager, which splits
// the payload into parts of partSize bytes and sends them concurrently.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
		Body:   data,
	}, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
