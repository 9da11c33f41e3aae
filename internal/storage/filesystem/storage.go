// Package filesystem implements the BlobStore interface on the local
// filesystem. Compose concatenates chunk files with an atomic
// write-then-rename.
package filesystem

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/filedepot/filedepot/internal/storage"
)

const (
	// composeBufferSize is the copy buffer for chunk concatenation.
	composeBufferSize = 4 * 1024 * 1024
)

// FilesystemStore implements storage.BlobStore on a base directory.
type FilesystemStore struct {
	baseDir    string
	absBaseDir string
}

// NewFilesystemStore creates a FilesystemStore rooted at baseDir.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, storage.NewStorageError("NewFilesystemStore", baseDir, err)
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, storage.NewStorageError("NewFilesystemStore", baseDir, err)
	}

	return &FilesystemStore{
		baseDir:    baseDir,
		absBaseDir: absBaseDir,
	}, nil
}

var _ storage.BlobStore = (*FilesystemStore)(nil)

// validateKey validates that the key doesn't escape the base directory.
// Returns the safe full path or an error if path traversal is detected.
func (fs *FilesystemStore) validateKey(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))

	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("absolute paths not allowed: %s", key)
	}

	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, string(filepath.Separator)+"..") {
		return "", fmt.Errorf("path traversal not allowed: %s", key)
	}

	fullPath := filepath.Join(fs.baseDir, cleaned)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid key: %w", err)
	}

	if !strings.HasPrefix(absPath, fs.absBaseDir+string(filepath.Separator)) && absPath != fs.absBaseDir {
		return "", fmt.Errorf("path escape attempt: %s", key)
	}

	return fullPath, nil
}

// Put writes an object with the atomic temp-then-rename pattern and
// returns its SHA256 as the content tag.
func (fs *FilesystemStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	filePath, err := fs.validateKey(key)
	if err != nil {
		return "", storage.NewStorageErrorWithMessage("Put", key, err, "key validation failed")
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", storage.NewStorageError("Put", key, err)
	}

	tempPath := filePath + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return "", storage.NewStorageError("Put", key, err)
	}

	var succeeded bool
	defer func() {
		tempFile.Close()
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(tempFile, io.TeeReader(reader, hasher))
	if err != nil {
		return "", storage.NewStorageError("Put", key, err)
	}

	if size > 0 && written != size {
		return "", storage.NewStorageErrorWithMessage("Put", key, nil,
			fmt.Sprintf("size mismatch: expected %d bytes, wrote %d bytes", size, written))
	}

	if err := tempFile.Close(); err != nil {
		return "", storage.NewStorageError("Put", key, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		return "", storage.NewStorageError("Put", key, err)
	}

	succeeded = true
	tag := hex.EncodeToString(hasher.Sum(nil))

	slog.Debug("object stored", "key", key, "size", written)
	return tag, nil
}

// Retrieve returns a reader for the object.
func (fs *FilesystemStore) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := fs.validateKey(key)
	if err != nil {
		return nil, storage.NewStorageErrorWithMessage("Retrieve", key, err, "key validation failed")
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NewStorageErrorWithMessage("Retrieve", key, err, "object not found")
		}
		return nil, storage.NewStorageError("Retrieve", key, err)
	}

	return file, nil
}

// Delete removes an object. Absent objects are not an error.
func (fs *FilesystemStore) Delete(ctx context.Context, key string) error {
	filePath, err := fs.validateKey(key)
	if err != nil {
		return storage.NewStorageErrorWithMessage("Delete", key, err, "key validation failed")
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storage.NewStorageError("Delete", key, err)
	}

	slog.Debug("object deleted", "key", key)
	return nil
}

// Exists checks whether an object is present.
func (fs *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := fs.validateKey(key)
	if err != nil {
		return false, storage.NewStorageErrorWithMessage("Exists", key, err, "key validation failed")
	}

	_, err = os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, storage.NewStorageError("Exists", key, err)
}

// Compose concatenates the objects at orderedKeys into destKey. The
// destination is written to a temp file and renamed so a crash mid-compose
// never leaves a partial final object.
func (fs *FilesystemStore) Compose(ctx context.Context, orderedKeys []string, destKey string, contentType string) (int64, error) {
	if len(orderedKeys) == 0 {
		return 0, storage.NewStorageErrorWithMessage("Compose", destKey, nil, "no source keys")
	}

	destPath, err := fs.validateKey(destKey)
	if err != nil {
		return 0, storage.NewStorageErrorWithMessage("Compose", destKey, err, "key validation failed")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, storage.NewStorageError("Compose", destKey, err)
	}

	tempPath := destPath + ".tmp"
	destFile, err := os.Create(tempPath)
	if err != nil {
		return 0, storage.NewStorageError("Compose", destKey, err)
	}

	var succeeded bool
	defer func() {
		destFile.Close()
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	writer := bufio.NewWriterSize(destFile, composeBufferSize)

	var total int64
	for _, key := range orderedKeys {
		if err := ctx.Err(); err != nil {
			return 0, storage.NewStorageError("Compose", destKey, err)
		}

		srcPath, err := fs.validateKey(key)
		if err != nil {
			return 0, storage.NewStorageErrorWithMessage("Compose", key, err, "key validation failed")
		}

		src, err := os.Open(srcPath)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, storage.NewStorageErrorWithMessage("Compose", key, err, "source object missing")
			}
			return 0, storage.NewStorageError("Compose", key, err)
		}

		n, err := io.Copy(writer, src)
		src.Close()
		if err != nil {
			return 0, storage.NewStorageError("Compose", key, err)
		}

		total += n
	}

	if err := writer.Flush(); err != nil {
		return 0, storage.NewStorageError("Compose", destKey, err)
	}

	if err := destFile.Close(); err != nil {
		return 0, storage.NewStorageError("Compose", destKey, err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return 0, storage.NewStorageError("Compose", destKey, err)
	}

	succeeded = true
	slog.Info("objects composed",
		"dest_key", destKey,
		"source_count", len(orderedKeys),
		"size", total,
	)

	return total, nil
}

// PresignPut is unsupported on the filesystem backend.
func (fs *FilesystemStore) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", storage.ErrPresignUnsupported
}

// PresignGet is unsupported on the filesystem backend.
func (fs *FilesystemStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", storage.ErrPresignUnsupported
}

// Bucket returns the base directory, which plays the bucket's role in
// file metadata.
func (fs *FilesystemStore) Bucket() string {
	return fs.baseDir
}
