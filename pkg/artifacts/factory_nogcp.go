//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (PackStore, error) {
	return nil, fmt.Errorf("artifacts: GCS support requires building with the gcp tag")
}
