package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/models"
)

// resolveDedup returns the completed file matching (contentHash, scope),
// or nil when no match exists.
func (e *Engine) resolveDedup(contentHash, scope string) (*models.FileRecord, error) {
	existing, err := database.FindCompletedByHashAndScope(e.db, contentHash, scope)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to resolve dedup")
	}
	return existing, nil
}

// SmallUpload describes a single-shot upload.
type SmallUpload struct {
	FileName    string
	MimeType    string
	Scope       string
	CreatedBy   string
	ContentHash string // Optional client-declared hash, verified against the bytes
	AllowDedup  bool
}

// UploadSmall is the single-shot path for payloads under the chunking
// threshold: hash the bytes, consult the dedup resolver, and on a miss
// write the blob and insert a COMPLETED record directly.
//
// The insert itself is the dedup authority. Losing a race to identical
// content surfaces as a unique violation; the loser discards its blob
// and returns the winner's file ID.
func (e *Engine) UploadSmall(ctx context.Context, meta SmallUpload, body io.Reader) (*models.SmallUploadResponse, error) {
	if meta.FileName == "" {
		return nil, Errorf(CodeValidation, "file_name is required")
	}
	if meta.ContentHash != "" && !isContentHash(meta.ContentHash) {
		return nil, Errorf(CodeValidation, "content_hash must be 64 lowercase hex characters")
	}

	limit := e.cfg.MaxSingleUploadSize
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to read upload body")
	}
	if int64(len(data)) > limit {
		return nil, Errorf(CodeValidation, "payload exceeds single-shot limit of %d bytes, use the chunked path", limit)
	}
	if len(data) == 0 {
		return nil, Errorf(CodeValidation, "empty payload")
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])
	if meta.ContentHash != "" && meta.ContentHash != contentHash {
		return nil, Errorf(CodeValidation, "content_hash does not match payload")
	}

	if meta.AllowDedup {
		existing, err := e.resolveDedup(contentHash, meta.Scope)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			metrics.DedupHits.Inc()
			database.LogFileAccess(e.db, existing.FileID, models.AccessUpload, meta.CreatedBy)
			slog.Info("upload deduplicated", "file_id", existing.FileID, "content_hash", contentHash)
			return &models.SmallUploadResponse{FileID: existing.FileID, IsDuplicate: true}, nil
		}
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}

	fileID := uuid.NewString()
	key := fileKey(fileID)

	err = retryUpstream(ctx, e.cfg.UpstreamRetryAttempts, "put object", func() error {
		_, putErr := e.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType)
		return putErr
	})
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to store object")
	}

	now := time.Now().UTC()
	record := &models.FileRecord{
		FileID:           fileID,
		FileName:         meta.FileName,
		OriginalFilename: meta.FileName,
		FileSize:         int64(len(data)),
		MimeType:         mimeType,
		ContentHash:      contentHash,
		StorageBucket:    e.blobs.Bucket(),
		StorageKey:       key,
		Status:           models.StatusCompleted,
		Scope:            meta.Scope,
		Dedup:            meta.AllowDedup,
		CreatedBy:        meta.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := database.CreateFile(e.db, record); err != nil {
		if database.IsUniqueViolation(err) {
			// Lost the insert race: someone else completed identical
			// content first. Discard our blob and return the winner.
			if delErr := e.blobs.Delete(ctx, key); delErr != nil {
				slog.Warn("failed to delete losing dedup blob", "key", key, "error", delErr)
			}

			winner, resolveErr := e.resolveDedup(contentHash, meta.Scope)
			if resolveErr != nil {
				return nil, resolveErr
			}
			if winner == nil {
				return nil, Errorf(CodeInternal, "dedup conflict with no completed winner for hash %s", contentHash)
			}

			metrics.DedupHits.Inc()
			database.LogFileAccess(e.db, winner.FileID, models.AccessUpload, meta.CreatedBy)
			return &models.SmallUploadResponse{FileID: winner.FileID, IsDuplicate: true}, nil
		}
		return nil, WrapErr(CodeUpstream, err, "failed to create file record")
	}

	metrics.UploadsCompleted.Inc()
	database.LogFileAccess(e.db, fileID, models.AccessUpload, meta.CreatedBy)
	slog.Info("single-shot upload stored",
		"file_id", fileID,
		"size", len(data),
		"mime_type", mimeType,
	)

	return &models.SmallUploadResponse{FileID: fileID, IsDuplicate: false}, nil
}
