package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is a BlobStore backed by AWS S3, selected by
// SIGILZERO_MIRROR_STORAGE_TYPE=s3. Blobs are keyed by their own
// SHA-256, so re-mirroring an unchanged run re-uploads nothing.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint, e.g. MinIO/LocalStack
	Prefix   string
}

// NewS3Store creates a new S3-backed blob store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("mirror: load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	rawHash, prefixedHash := hashOf(data)
	key := s.prefix + rawHash + ".blob"

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return prefixedHash, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("mirror: s3 put failed: %w", err)
	}
	return prefixedHash, nil
}

func (s *S3Store) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return nil, err
	}
	key := s.prefix + rawHash + ".blob"

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("mirror: s3 get failed for %s: %w", hash, err)
	}
	defer func() { _ = result.Body.Close() }()
	return io.ReadAll(result.Body)
}

func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return false, err
	}
	key := s.prefix + rawHash + ".blob"

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, hash string) error {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return err
	}
	key := s.prefix + rawHash + ".blob"

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("mirror: s3 delete failed for %s: %w", hash, err)
	}
	return nil
}
