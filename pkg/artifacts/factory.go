package artifacts

import (
	"context"
	"fmt"
	"os"
)

// StoreType selects the pack storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates a pack store based on environment variables.
//
// Environment variables:
//   - TARIC_PACK_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - TARIC_PACK_DIR: directory for the filesystem store (default "packs")
//
// For S3:
//   - TARIC_PACK_S3_BUCKET (required)
//   - TARIC_PACK_S3_REGION or AWS_REGION
//   - TARIC_PACK_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - TARIC_PACK_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - TARIC_PACK_GCS_BUCKET (required)
//   - TARIC_PACK_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (PackStore, error) {
	storeType := StoreType(os.Getenv("TARIC_PACK_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dir := os.Getenv("TARIC_PACK_DIR")
		if dir == "" {
			dir = "packs"
		}
		return NewFSStore(dir)
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("artifacts: unsupported pack storage type: %s", storeType)
	}
}

func newS3StoreFromEnv(ctx context.Context) (PackStore, error) {
	bucket := os.Getenv("TARIC_PACK_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: TARIC_PACK_S3_BUCKET is required for S3 storage")
	}
	region := os.Getenv("TARIC_PACK_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("TARIC_PACK_S3_ENDPOINT"),
		Prefix:   os.Getenv("TARIC_PACK_S3_PREFIX"),
	})
}
