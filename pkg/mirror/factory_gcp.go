//go:build gcp

package mirror

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("SIGILZERO_MIRROR_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("mirror: SIGILZERO_MIRROR_GCS_BUCKET is required for gcs mirror storage")
	}
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: bucket, Prefix: os.Getenv("SIGILZERO_MIRROR_GCS_PREFIX")})
}
