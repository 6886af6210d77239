package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Options configures an S3-compatible backend.
type S3Options struct {
	Name      string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	PathStyle bool
}

// S3Backend stores objects on any S3-compatible provider (AWS, Wasabi,
// Backblaze, MinIO). Checksums come from HeadObject: a SHA-256 stored as
// object metadata at upload time, falling back to the ETag for providers
// that return plain MD5 ETags.
type S3Backend struct {
	name   string
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

const checksumMetadataKey = "content-sha256"

// NewS3Backend creates an S3-compatible backend.
func NewS3Backend(opts S3Options, logger *zap.Logger) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 backend %s: bucket is required", opts.Name)
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	clientOpts := s3.Options{
		Region: opts.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		),
		UsePathStyle: opts.PathStyle,
	}
	if opts.Endpoint != "" {
		clientOpts.BaseEndpoint = aws.String(opts.Endpoint)
	}

	return &S3Backend{
		name:   opts.Name,
		client: s3.New(clientOpts),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		logger: logger,
	}, nil
}

// Name returns the backend identifier.
func (b *S3Backend) Name() string {
	return b.name
}

func (b *S3Backend) buildKey(locationRef, key string) string {
	return path.Join(b.prefix, locationRef, key)
}

// Put stores an object. Data is read once into memory so the SHA-256 can be
// attached as object metadata in the same request.
func (b *S3Backend) Put(ctx context.Context, locationRef, key string, data io.Reader) error {
	fullKey := b.buildKey(locationRef, key)

	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("reading data: %w", err)
	}
	sum := sha256.Sum256(buf)

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(buf),
		Metadata: map[string]string{
			checksumMetadataKey: hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", fullKey, err)
	}

	b.logger.Debug("stored object",
		zap.String("backend", b.name),
		zap.String("bucket", b.bucket),
		zap.String("key", fullKey))

	return nil
}

// Stat returns size and content checksum for a stored object.
func (b *S3Backend) Stat(ctx context.Context, locationRef, key string) (ObjectInfo, error) {
	fullKey := b.buildKey(locationRef, key)

	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head object %s: %w", fullKey, err)
	}

	checksum := result.Metadata[checksumMetadataKey]
	if checksum == "" && result.ETag != nil {
		checksum = strings.Trim(*result.ETag, `"`)
	}

	info := ObjectInfo{Checksum: checksum}
	if result.ContentLength != nil {
		info.SizeBytes = *result.ContentLength
	}
	if result.LastModified != nil {
		info.ModifiedAt = *result.LastModified
	}
	return info, nil
}

// Probe lists at most one key to confirm the bucket is reachable.
func (b *S3Backend) Probe(ctx context.Context) error {
	_, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("probe bucket %s: %w", b.bucket, err)
	}
	return nil
}
