//go:build !gcp

package mirror

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (BlobStore, error) {
	return nil, fmt.Errorf("mirror: gcs storage not enabled in this build (use -tags gcp)")
}
