package inventory

import (
	"bytes"
	"context"
	"fmt"

	"stocksync/core/storage"

	"github.com/minio/minio-go/v7"
)

// BulkArchiver persists bulk export payloads to object storage so a run's
// raw input can be inspected after the fact.
type BulkArchiver struct {
	client storage.Client
	bucket string
}

// NewBulkArchiver creates an archiver writing into the given bucket.
func NewBulkArchiver(client storage.Client, bucket string) *BulkArchiver {
	return &BulkArchiver{client: client, bucket: bucket}
}

// ArchiveBulkExport stores the JSONL payload under exports/<store>/<run>.jsonl.
func (a *BulkArchiver) ArchiveBulkExport(ctx context.Context, storeKey, runKey string, data []byte) error {
	objectName := fmt.Sprintf("exports/%s/%s.jsonl", storeKey, runKey)
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		return fmt.Errorf("archiving bulk export: %w", err)
	}
	return nil
}
