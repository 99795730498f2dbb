package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Writer uploads objects to the configured bucket.
type Writer struct {
	client   *Client
	uploader *manager.Uploader
	timeout  time.Duration
}

// NewWriter creates a Writer with the given per-upload timeout. A zero
// timeout disables the deadline.
func NewWriter(client *Client, timeout time.Duration) *Writer {
	return &Writer{
		client:   client,
		uploader: manager.NewUploader(client.S3()),
		timeout:  timeout,
	}
}

// Put uploads the payload under key with the given content type.
func (w *Writer) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.Bucket()),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %q: %w", key, err)
	}
	return nil
}
