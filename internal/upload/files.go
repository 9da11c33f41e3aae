package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/storage"
)

// getCompletedFile loads a record and enforces that its content is
// addressable.
func (e *Engine) getCompletedFile(fileID string) (*models.FileRecord, error) {
	record, err := database.GetFile(e.db, fileID)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to load file record")
	}
	if record == nil {
		return nil, Errorf(CodeNotFound, "file %s not found", fileID)
	}

	switch record.Status {
	case models.StatusCompleted:
		return record, nil
	case models.StatusExpired:
		return nil, Errorf(CodeExpired, "file %s has expired", fileID)
	default:
		return nil, Errorf(CodeConflict, "file %s is not available (status %s)", fileID, record.Status)
	}
}

// GetFileRecord returns a file's metadata regardless of status.
func (e *Engine) GetFileRecord(ctx context.Context, fileID string, userID string) (*models.FileRecord, error) {
	record, err := database.GetFile(e.db, fileID)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to load file record")
	}
	if record == nil {
		return nil, Errorf(CodeNotFound, "file %s not found", fileID)
	}

	database.LogFileAccess(e.db, fileID, models.AccessView, userID)
	return record, nil
}

// DownloadURL mints a presigned GET URL for a completed file. Backends
// without presigning return ErrPresignUnsupported; the transport layer
// falls back to OpenFile and streams the bytes itself.
func (e *Engine) DownloadURL(ctx context.Context, fileID string, userID string) (*models.DownloadURLResponse, error) {
	record, err := e.getCompletedFile(fileID)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(e.cfg.SignedURLTTLMinutes) * time.Minute

	var url string
	err = retryUpstream(ctx, e.cfg.UpstreamRetryAttempts, "presign get", func() error {
		var presignErr error
		url, presignErr = e.blobs.PresignGet(ctx, record.StorageKey, ttl)
		if errors.Is(presignErr, storage.ErrPresignUnsupported) {
			return nil
		}
		return presignErr
	})
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to presign download")
	}
	if url == "" {
		return nil, storage.ErrPresignUnsupported
	}

	database.LogFileAccess(e.db, fileID, models.AccessDownload, userID)
	return &models.DownloadURLResponse{
		FileID:    fileID,
		URL:       url,
		FileName:  record.FileName,
		FileSize:  record.FileSize,
		MimeType:  record.MimeType,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// OpenFile returns the record and a reader over a completed file's
// bytes, for backends that cannot presign downloads.
func (e *Engine) OpenFile(ctx context.Context, fileID string, userID string) (*models.FileRecord, io.ReadCloser, error) {
	record, err := e.getCompletedFile(fileID)
	if err != nil {
		return nil, nil, err
	}

	reader, err := e.blobs.Retrieve(ctx, record.StorageKey)
	if err != nil {
		return nil, nil, WrapErr(CodeUpstream, err, "failed to open file %s", fileID)
	}

	database.LogFileAccess(e.db, fileID, models.AccessDownload, userID)
	return record, reader, nil
}

// DeleteFile removes a file's blob and metadata.
func (e *Engine) DeleteFile(ctx context.Context, fileID string, userID string) error {
	record, err := database.GetFile(e.db, fileID)
	if err != nil {
		return WrapErr(CodeUpstream, err, "failed to load file record")
	}
	if record == nil {
		return Errorf(CodeNotFound, "file %s not found", fileID)
	}

	if record.StorageKey != "" {
		err = retryUpstream(ctx, e.cfg.UpstreamRetryAttempts, "delete object", func() error {
			return e.blobs.Delete(ctx, record.StorageKey)
		})
		if err != nil {
			return WrapErr(CodeUpstream, err, "failed to delete object for file %s", fileID)
		}
	}

	if err := database.DeleteFile(e.db, fileID); err != nil {
		return WrapErr(CodeUpstream, err, "failed to delete file record")
	}

	metrics.FilesDeleted.Inc()
	database.LogFileAccess(e.db, fileID, models.AccessDelete, userID)
	slog.Info("file deleted", "file_id", fileID)
	return nil
}

// QueryFiles returns a filtered, paged listing of file records.
func (e *Engine) QueryFiles(ctx context.Context, q models.FileQuery) (*models.FileQueryResult, error) {
	result, err := database.QueryFiles(e.db, q)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to query files")
	}
	return result, nil
}
