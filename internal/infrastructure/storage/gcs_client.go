package storage

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"gigchat/pkg/errors"
)

// CloudStorageClient uploads chat attachments to a GCS bucket. It satisfies
// usecase.ObjectUploader.
type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
}

func NewCloudStorageClient(ctx context.Context, bucketName, credentialsPath string) (*CloudStorageClient, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Upload streams the file to the bucket and reads size and content type back
// from the stored object's attributes, so a spoofed client-supplied size
// never reaches a message document.
func (c *CloudStorageClient) Upload(ctx context.Context, file io.Reader, objectName, mimeType string) (string, int64, string, error) {
	obj := c.client.Bucket(c.bucketName).Object(objectName)

	wc := obj.NewWriter(ctx)
	wc.ContentType = mimeType
	wc.CacheControl = "public, max-age=86400"

	if _, err := io.Copy(wc, file); err != nil {
		wc.Close()
		return "", 0, "", errors.UploadFailed("Failed to stream attachment to storage", err)
	}
	if err := wc.Close(); err != nil {
		return "", 0, "", errors.UploadFailed("Failed to finalize attachment upload", err)
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return "", 0, "", errors.UploadFailed("Failed to read back attachment metadata", err)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucketName, objectName)
	return url, attrs.Size, attrs.ContentType, nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}
