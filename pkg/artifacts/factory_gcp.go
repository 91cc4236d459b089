//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (PackStore, error) {
	bucket := os.Getenv("TARIC_PACK_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: TARIC_PACK_GCS_BUCKET is required for GCS storage")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("TARIC_PACK_GCS_PREFIX"),
	})
}
