package mirror

import (
	"context"
	"fmt"
	"os"
)

// StorageType selects a BlobStore backend for the mirror
// (SIGILZERO_MIRROR_STORAGE_TYPE).
type StorageType string

const (
	StorageTypeNone StorageType = "none"
	StorageTypeFS   StorageType = "fs"
	StorageTypeS3   StorageType = "s3"
	StorageTypeGCS  StorageType = "gcs"
)

// NewFromEnv builds a Mirror from SIGILZERO_MIRROR_STORAGE_TYPE and its
// backend-specific environment variables. "none" (the default) returns a
// nil Mirror, meaning the engine performs no off-box replication.
func NewFromEnv(ctx context.Context, repoRoot string) (*Mirror, error) {
	storageType := StorageType(os.Getenv("SIGILZERO_MIRROR_STORAGE_TYPE"))
	if storageType == "" {
		storageType = StorageTypeNone
	}

	var store BlobStore
	var err error
	switch storageType {
	case StorageTypeNone:
		return nil, nil
	case StorageTypeFS:
		store, err = newFileStoreFromEnv(repoRoot)
	case StorageTypeS3:
		store, err = newS3StoreFromEnv(ctx)
	case StorageTypeGCS:
		store, err = newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("mirror: unsupported SIGILZERO_MIRROR_STORAGE_TYPE: %s", storageType)
	}
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

func newFileStoreFromEnv(repoRoot string) (BlobStore, error) {
	dir := os.Getenv("SIGILZERO_MIRROR_FS_DIR")
	if dir == "" {
		dir = repoRoot + "/.mirror"
	}
	return NewFileStore(dir)
}

func newS3StoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("SIGILZERO_MIRROR_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("mirror: SIGILZERO_MIRROR_S3_BUCKET is required for s3 mirror storage")
	}

	region := os.Getenv("SIGILZERO_MIRROR_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("SIGILZERO_MIRROR_S3_ENDPOINT"),
		Prefix:   os.Getenv("SIGILZERO_MIRROR_S3_PREFIX"),
	})
}
