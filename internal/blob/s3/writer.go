package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// minPartSize is the S3 floor for multipart parts.
const minPartSize int64 = 5 << 20

// Writer implements domain.BlobWriter for the data log archive.
type Writer struct {
	c *Client
}

// NewWriter returns a Writer on c.
func NewWriter(c *Client) *Writer {
	return &Writer{c: c}
}

// Put uploads one object. Non-seekable readers go through the upload
// manager, which buffers them into parts.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(w.c.objectKey(path)),
		Body:        data,
		ContentType: aws.String(contentType),
	}
	if _, ok := data.(io.Seeker); !ok {
		if _, err := manager.NewUploader(w.c.s3).Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: upload %s: %w", path, err)
		}
		return nil
	}
	if _, err := w.c.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data in parts of at least 5 MiB.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	partSize = max(partSize, minPartSize)
	uploader := manager.NewUploader(w.c.s3, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.c.bucket),
		Key:    aws.String(w.c.objectKey(path)),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
