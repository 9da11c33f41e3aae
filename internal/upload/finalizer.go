package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/storage"
)

// reclaimTimeout bounds the background deletion of an upload's temp
// chunks after finalize.
const reclaimTimeout = 5 * time.Minute

// Complete finalizes a chunked upload. The status compare-and-set on
// the file record is the single-flight gate: among N concurrent callers
// exactly one wins the transition and composes; the rest observe the
// terminal state without re-composing.
//
// On compose failure the record flips to FAILED and the chunk objects
// are preserved, so a retry needs a new initiate but never a re-upload
// of chunk bytes that could still be salvaged by an operator.
func (e *Engine) Complete(ctx context.Context, uploadID string) (*models.FileRecord, error) {
	s, err := e.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if !s.IsComplete() {
		return nil, Errorf(CodeConflict, "upload has %d of %d chunks, missing %v",
			s.Received(), s.TotalChunks, s.MissingChunks())
	}

	won, err := database.TransitionFileStatus(e.db, s.FileID,
		[]models.UploadStatus{models.StatusPending, models.StatusUploading},
		models.StatusCompleted)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return e.resolveLostDedupFinalize(ctx, s)
		}
		return nil, WrapErr(CodeUpstream, err, "failed to transition file status")
	}

	if !won {
		return e.observeTerminal(s.FileID)
	}

	keys := storage.ChunkKeys(s.UploadID, s.TotalChunks)
	destKey := fileKey(s.FileID)

	record, err := database.GetFile(e.db, s.FileID)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to load file record")
	}
	if record == nil {
		return nil, Errorf(CodeInternal, "file record %s missing for session %s", s.FileID, uploadID)
	}

	start := time.Now()
	var composedSize int64
	err = retryUpstream(ctx, e.cfg.UpstreamRetryAttempts, "compose", func() error {
		var composeErr error
		composedSize, composeErr = e.blobs.Compose(ctx, keys, destKey, record.MimeType)
		return composeErr
	})
	metrics.ComposeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if _, failErr := database.TransitionFileStatus(e.db, s.FileID,
			[]models.UploadStatus{models.StatusCompleted},
			models.StatusFailed); failErr != nil {
			slog.Error("failed to mark upload FAILED after compose error",
				"file_id", s.FileID, "error", failErr)
		}
		metrics.UploadsFailed.Inc()
		slog.Error("compose failed, chunks preserved",
			"upload_id", uploadID,
			"file_id", s.FileID,
			"error", err,
		)
		return nil, WrapErr(CodeUpstream, err, "failed to compose upload %s", uploadID)
	}

	if composedSize != s.TotalSize {
		slog.Warn("composed size differs from declared total",
			"upload_id", uploadID,
			"declared", s.TotalSize,
			"composed", composedSize,
		)
	}

	if err := database.SetFileStorageLocation(e.db, s.FileID, e.blobs.Bucket(), destKey, record.MimeType); err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to persist storage location")
	}

	if err := e.sessions.Delete(ctx, uploadID); err != nil {
		slog.Warn("failed to delete finalized session", "upload_id", uploadID, "error", err)
	}

	e.reclaimChunksAsync(uploadID, keys)

	metrics.UploadsCompleted.Inc()
	database.LogFileAccess(e.db, s.FileID, models.AccessUpload, record.CreatedBy)
	slog.Info("upload finalized",
		"upload_id", uploadID,
		"file_id", s.FileID,
		"size", composedSize,
		"chunks", s.TotalChunks,
	)

	final, err := database.GetFile(e.db, s.FileID)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to reload file record")
	}
	return final, nil
}

// observeTerminal is the CAS loser's path: report the state the winner
// produced. A non-terminal status means the winner is still composing.
func (e *Engine) observeTerminal(fileID string) (*models.FileRecord, error) {
	record, err := database.GetFile(e.db, fileID)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to load file record")
	}
	if record == nil {
		return nil, Errorf(CodeNotFound, "file %s not found", fileID)
	}

	if !record.Status.Terminal() {
		return nil, Errorf(CodeConflict, "finalization of file %s already in progress", fileID)
	}

	return record, nil
}

// resolveLostDedupFinalize handles a unique violation on the COMPLETED
// transition: an identical-content upload in the same scope finished
// first. Our record flips to FAILED (its chunks get reclaimed by the
// sweeper) and the caller gets the winner.
func (e *Engine) resolveLostDedupFinalize(ctx context.Context, s *models.UploadSession) (*models.FileRecord, error) {
	record, err := database.GetFile(e.db, s.FileID)
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to load file record")
	}
	if record == nil {
		return nil, Errorf(CodeNotFound, "file %s not found", s.FileID)
	}

	if _, failErr := database.TransitionFileStatus(e.db, s.FileID,
		[]models.UploadStatus{models.StatusPending, models.StatusUploading},
		models.StatusFailed); failErr != nil {
		slog.Error("failed to mark deduplicated upload FAILED", "file_id", s.FileID, "error", failErr)
	}

	if err := e.sessions.Delete(ctx, s.UploadID); err != nil {
		slog.Warn("failed to delete deduplicated session", "upload_id", s.UploadID, "error", err)
	}

	winner, err := e.resolveDedup(record.ContentHash, record.Scope)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, Errorf(CodeInternal, "dedup conflict with no completed winner for hash %s", record.ContentHash)
	}

	metrics.DedupHits.Inc()
	slog.Info("finalize deduplicated against existing file",
		"upload_id", s.UploadID,
		"loser_file_id", s.FileID,
		"winner_file_id", winner.FileID,
	)

	return winner, nil
}

// reclaimChunksAsync deletes an upload's temp chunk objects and audit
// rows off the request path. Leftovers from a crash are caught by the
// sweeper once the session record ages out.
func (e *Engine) reclaimChunksAsync(uploadID string, keys []string) {
	e.reclaimWG.Add(1)
	go func() {
		defer e.reclaimWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), reclaimTimeout)
		defer cancel()

		for _, key := range keys {
			if err := e.blobs.Delete(ctx, key); err != nil {
				slog.Warn("failed to reclaim chunk object", "key", key, "error", err)
			}
		}

		if err := database.DeleteChunkRecords(e.db, uploadID); err != nil {
			slog.Warn("failed to delete chunk records", "upload_id", uploadID, "error", err)
		}

		slog.Debug("chunk objects reclaimed", "upload_id", uploadID, "count", len(keys))
	}()
}
