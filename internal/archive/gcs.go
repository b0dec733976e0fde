// Package archive persists generated report snapshots to object storage,
// one JSON object per user per month.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
)

// Archiver stores one report snapshot.
type Archiver interface {
	StoreReport(ctx context.Context, userID string, month time.Time, data []byte) error
}

// GCSArchiver writes report JSON to a GCS bucket under
// reports/<userID>/<YYYY-MM>.json. It assumes Application Default
// Credentials are configured.
type GCSArchiver struct {
	bucket string
}

// NewGCSArchiver creates an archiver for the given bucket.
func NewGCSArchiver(bucket string) *GCSArchiver {
	return &GCSArchiver{bucket: bucket}
}

// StoreReport implements the Archiver interface.
func (a *GCSArchiver) StoreReport(ctx context.Context, userID string, month time.Time, data []byte) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("archive: create storage client: %w", err)
	}
	defer client.Close()

	objectName := fmt.Sprintf("reports/%s/%s.json", userID, month.Format("2006-01"))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive: write object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: finalize upload %s: %w", objectName, err)
	}
	return nil
}

// Ensure GCSArchiver implements the Archiver interface.
var _ Archiver = (*GCSArchiver)(nil)
