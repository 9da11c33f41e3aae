// Package s3 implements the BlobStore interface for AWS S3 and
// S3-compatible storage. Compose uses a server-side multipart copy so
// chunk bytes never transit this process.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/filedepot/filedepot/internal/storage"
)

const (
	// multipartUploadPartSize is the part size for streaming uploads
	// (5MB is the S3 minimum).
	multipartUploadPartSize = 5 * 1024 * 1024
)

// Config holds configuration for S3 storage.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool // Use path-style addressing (required for MinIO)
}

// S3Store implements storage.BlobStore for AWS S3 and S3-compatible
// storage.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store creates an S3Store and verifies bucket access.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error

	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = multipartUploadPartSize
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("S3 storage initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
	)

	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: uploader,
		bucket:   cfg.Bucket,
	}, nil
}

var _ storage.BlobStore = (*S3Store)(nil)

// validateKey ensures the S3 key doesn't contain path traversal or
// dangerous characters.
func (s *S3Store) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}

	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("null bytes not allowed in key")
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("path traversal not allowed: %s", key)
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == "/" {
		return fmt.Errorf("invalid key: %s", key)
	}

	return nil
}

// Put streams an object to S3 and returns the ETag.
func (s *S3Store) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	if err := s.validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("Put", key, err, "key validation failed")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return "", storage.NewStorageError("Put", key, err)
	}

	tag := ""
	if out.ETag != nil {
		tag = strings.Trim(*out.ETag, `"`)
	}

	slog.Debug("object stored", "key", key, "size", size)
	return tag, nil
}

// Retrieve returns a reader for the object body.
func (s *S3Store) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.validateKey(key); err != nil {
		return nil, storage.NewStorageErrorWithMessage("Retrieve", key, err, "key validation failed")
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.NewStorageErrorWithMessage("Retrieve", key, err, "object not found")
		}
		return nil, storage.NewStorageError("Retrieve", key, err)
	}

	return out.Body, nil
}

// Delete removes an object. S3 treats deleting an absent key as success.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.validateKey(key); err != nil {
		return storage.NewStorageErrorWithMessage("Delete", key, err, "key validation failed")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storage.NewStorageError("Delete", key, err)
	}

	return nil
}

// Exists checks whether an object is present via HEAD.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.validateKey(key); err != nil {
		return false, storage.NewStorageErrorWithMessage("Exists", key, err, "key validation failed")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, storage.NewStorageError("Exists", key, err)
	}

	return true, nil
}

// Compose concatenates the objects at orderedKeys into destKey using a
// multipart upload whose parts are server-side copies of the chunks.
// Every part except the last must meet the S3 5MB minimum; config
// validation enforces that floor on MIN_CHUNK_SIZE for this backend.
func (s *S3Store) Compose(ctx context.Context, orderedKeys []string, destKey string, contentType string) (int64, error) {
	if len(orderedKeys) == 0 {
		return 0, storage.NewStorageErrorWithMessage("Compose", destKey, nil, "no source keys")
	}

	if err := s.validateKey(destKey); err != nil {
		return 0, storage.NewStorageErrorWithMessage("Compose", destKey, err, "key validation failed")
	}

	createInput := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(destKey),
	}
	if contentType != "" {
		createInput.ContentType = aws.String(contentType)
	}

	created, err := s.client.CreateMultipartUpload(ctx, createInput)
	if err != nil {
		return 0, storage.NewStorageError("Compose", destKey, err)
	}
	mpUploadID := created.UploadId

	abort := func() {
		_, abortErr := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(destKey),
			UploadId: mpUploadID,
		})
		if abortErr != nil {
			slog.Warn("failed to abort multipart compose", "dest_key", destKey, "error", abortErr)
		}
	}

	completedParts := make([]types.CompletedPart, 0, len(orderedKeys))
	for i, key := range orderedKeys {
		if err := s.validateKey(key); err != nil {
			abort()
			return 0, storage.NewStorageErrorWithMessage("Compose", key, err, "key validation failed")
		}

		partNum := int32(i + 1)
		copied, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(destKey),
			UploadId:   mpUploadID,
			PartNumber: aws.Int32(partNum),
			CopySource: aws.String(s.bucket + "/" + key),
		})
		if err != nil {
			abort()
			return 0, storage.NewStorageError("Compose", key, err)
		}

		completedParts = append(completedParts, types.CompletedPart{
			ETag:       copied.CopyPartResult.ETag,
			PartNumber: aws.Int32(partNum),
		})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(destKey),
		UploadId: mpUploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		abort()
		return 0, storage.NewStorageError("Compose", destKey, err)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(destKey),
	})
	if err != nil {
		return 0, storage.NewStorageError("Compose", destKey, err)
	}

	size := aws.ToInt64(head.ContentLength)
	slog.Info("objects composed",
		"dest_key", destKey,
		"source_count", len(orderedKeys),
		"size", size,
	)

	return size, nil
}

// PresignPut mints a presigned PUT URL for the object.
func (s *S3Store) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := s.validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("PresignPut", key, err, "key validation failed")
	}

	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", storage.NewStorageError("PresignPut", key, err)
	}

	return req.URL, nil
}

// PresignGet mints a presigned GET URL for the object.
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := s.validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("PresignGet", key, err, "key validation failed")
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", storage.NewStorageError("PresignGet", key, err)
	}

	return req.URL, nil
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}
