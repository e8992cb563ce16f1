package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// Archiver copies ingested source files into a bucket under the run id.
type Archiver struct {
	client *storage.Client
	bucket string
}

// NewArchiver creates an Archiver writing to bucket.
func NewArchiver(ctx context.Context, bucket string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewArchiver: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewArchiver: create storage client: %w", err)
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (a *Archiver) Close() error {
	return a.client.Close()
}

// Archive uploads data as gs://bucket/<runID>/<base name> and returns the URI.
func (a *Archiver) Archive(ctx context.Context, runID int64, name string, data []byte) (string, error) {
	object := ArchiveObject(runID, name)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"
	w.Metadata = map[string]string{"source": name, "run_id": fmt.Sprint(runID)}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Archive: copy %s to GCS writer: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Archive: finalize upload: %w", err)
	}
	return ObjectURI(a.bucket, object), nil
}
