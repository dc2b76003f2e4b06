//go:build gcp

package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a BlobStore backed by Google Cloud Storage, selected by
// SIGILZERO_MIRROR_STORAGE_TYPE=gcs. Built only with -tags gcp so the
// GCS client stays out of default builds.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig configures a GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a new GCS-backed blob store using ADC.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	rawHash, prefixedHash := hashOf(data)
	objectPath := s.prefix + rawHash + ".blob"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return prefixedHash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("mirror: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("mirror: gcs close failed: %w", err)
	}
	return prefixedHash, nil
}

func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return nil, err
	}
	objectPath := s.prefix + rawHash + ".blob"

	reader, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: gcs get failed for %s: %w", hash, err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return false, err
	}
	objectPath := s.prefix + rawHash + ".blob"

	_, err = s.client.Bucket(s.bucket).Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("mirror: gcs attrs error: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, hash string) error {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return err
	}
	objectPath := s.prefix + rawHash + ".blob"

	err = s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("mirror: gcs delete failed for %s: %w", hash, err)
	}
	return nil
}

// Close closes the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
