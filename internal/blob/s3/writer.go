package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// Writer implements domain.BlobWriter with the s3 upload manager, which
// switches to multipart uploads for large bodies.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewWriter creates a Writer on c's bucket.
func NewWriter(c *Client) *Writer {
	return newWriter(c.s3, c.bucket, c.prefix)
}

func newWriter(api manager.UploadAPIClient, bucket, prefix string) *Writer {
	return &Writer{
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = manager.MinUploadPartSize
		}),
		bucket: bucket,
		prefix: prefix,
	}
}

// Put uploads data under key.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	full := path.Join(w.prefix, key)
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(full),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", full, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
