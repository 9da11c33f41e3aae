// Package storage abstracts the blob store consumed by the upload engine.
// Implementations cover local filesystem, S3-compatible services, and an
// in-memory mock for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrPresignUnsupported is returned by backends that cannot mint signed
// URLs; callers fall back to proxying bytes through the server.
var ErrPresignUnsupported = errors.New("presigned URLs not supported by this backend")

// ChunkKey returns the temporary object key for one chunk of an upload.
func ChunkKey(uploadID string, chunkNumber int) string {
	return fmt.Sprintf(".chunks/%s/%d", uploadID, chunkNumber)
}

// ChunkKeys returns the ordered temporary keys for chunks 1..totalChunks.
func ChunkKeys(uploadID string, totalChunks int) []string {
	keys := make([]string, 0, totalChunks)
	for n := 1; n <= totalChunks; n++ {
		keys = append(keys, ChunkKey(uploadID, n))
	}
	return keys
}

// BlobStore is the blob-store contract. Compose is the one primitive the
// engine orchestrates rather than implements: it concatenates the objects
// at orderedKeys, in order, into a single object at destKey.
type BlobStore interface {
	// Put writes the object and returns a content tag (ETag or
	// equivalent). size is used for validation where the backend can
	// check it.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (tag string, err error)

	// Retrieve returns a reader for the object. The caller closes it.
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Compose concatenates the objects at orderedKeys into destKey and
	// returns the composed object's size.
	Compose(ctx context.Context, orderedKeys []string, destKey string, contentType string) (int64, error)

	// PresignPut returns a URL authorizing a single PUT of the object
	// within ttl, or ErrPresignUnsupported.
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PresignGet returns a URL authorizing GETs of the object within
	// ttl, or ErrPresignUnsupported.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Bucket returns the backend's bucket (or equivalent namespace)
	// for recording in file metadata.
	Bucket() string
}

// StorageError carries operation context for blob-store failures.
type StorageError struct {
	Op      string // Operation that failed (e.g., "Put", "Compose")
	Key     string // Object key involved
	Err     error  // Underlying error
	Message string // Optional human-readable message
}

func (e *StorageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError with the given details.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// NewStorageErrorWithMessage creates a StorageError with a custom message.
func NewStorageErrorWithMessage(op, key string, err error, message string) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err, Message: message}
}
