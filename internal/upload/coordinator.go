// Package upload implements the upload session and finalization engine:
// session lifecycle, chunk-receipt bookkeeping, content-addressed
// deduplication, single-flight finalize/compose, and scheduled
// reclamation of expired state.
package upload

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/session"
	"github.com/filedepot/filedepot/internal/storage"
)

// Engine coordinates chunked uploads end to end. Handlers call it per
// request; the sweeper runs beside it on its own timer.
type Engine struct {
	db       *sql.DB
	sessions session.Store
	blobs    storage.BlobStore
	cfg      *config.Config

	// reclaimWG tracks async temp-chunk deletions so shutdown can
	// drain them.
	reclaimWG sync.WaitGroup
}

// NewEngine creates an Engine.
func NewEngine(db *sql.DB, sessions session.Store, blobs storage.BlobStore, cfg *config.Config) *Engine {
	return &Engine{
		db:       db,
		sessions: sessions,
		blobs:    blobs,
		cfg:      cfg,
	}
}

// Wait blocks until all in-flight async reclamations finish.
func (e *Engine) Wait() {
	e.reclaimWG.Wait()
}

// fileKey returns the blob key for a finalized file.
func fileKey(fileID string) string {
	return "files/" + fileID
}

// isContentHash reports whether s is exactly 64 lowercase hex characters.
func isContentHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Initiate validates the upload request, creates the file record and
// session, and returns the chunk plan. When the client declares a
// content hash and opts into deduplication, a matching completed file
// short-circuits the upload entirely.
func (e *Engine) Initiate(ctx context.Context, req *models.InitiateUploadRequest) (*models.InitiateUploadResponse, error) {
	if req.FileName == "" {
		return nil, Errorf(CodeValidation, "file_name is required")
	}
	if req.TotalSize <= 0 {
		return nil, Errorf(CodeValidation, "total_size must be positive")
	}
	if req.TotalSize > e.cfg.MaxFileSize {
		return nil, Errorf(CodeValidation, "total_size %d exceeds maximum %d", req.TotalSize, e.cfg.MaxFileSize)
	}
	if req.ChunkSize < e.cfg.MinChunkSize || req.ChunkSize > e.cfg.MaxChunkSize {
		return nil, Errorf(CodeValidation, "chunk_size %d outside allowed range [%d, %d]",
			req.ChunkSize, e.cfg.MinChunkSize, e.cfg.MaxChunkSize)
	}
	if req.ContentHash != "" && !isContentHash(req.ContentHash) {
		return nil, Errorf(CodeValidation, "content_hash must be 64 lowercase hex characters")
	}

	totalChunks := int((req.TotalSize + req.ChunkSize - 1) / req.ChunkSize)
	if totalChunks < 2 {
		return nil, Errorf(CodeValidation, "upload fits in a single chunk, use the single-shot path")
	}
	if totalChunks > e.cfg.MaxChunks {
		return nil, Errorf(CodeValidation, "upload requires %d chunks, maximum is %d", totalChunks, e.cfg.MaxChunks)
	}

	if req.AllowDedup && req.ContentHash != "" {
		existing, err := e.resolveDedup(req.ContentHash, req.Scope)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			metrics.DedupHits.Inc()
			database.LogFileAccess(e.db, existing.FileID, models.AccessUpload, req.CreatedBy)
			slog.Info("upload deduplicated at initiate",
				"file_id", existing.FileID,
				"content_hash", req.ContentHash,
			)
			return &models.InitiateUploadResponse{
				FileID:      existing.FileID,
				IsDuplicate: true,
			}, nil
		}
	}

	now := time.Now().UTC()
	ttl := time.Duration(e.cfg.SessionTTLHours) * time.Hour
	fileID := uuid.NewString()
	uploadID := uuid.NewString()

	record := &models.FileRecord{
		FileID:           fileID,
		FileName:         req.FileName,
		OriginalFilename: req.FileName,
		FileSize:         req.TotalSize,
		MimeType:         req.MimeType,
		ContentHash:      req.ContentHash,
		StorageBucket:    e.blobs.Bucket(),
		Status:           models.StatusUploading,
		Scope:            req.Scope,
		// Only hash-bearing records can participate in the dedup
		// constraint; otherwise hashless uploads would collide.
		Dedup:     req.AllowDedup && req.ContentHash != "",
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := database.CreateFile(e.db, record); err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to create file record")
	}

	sess := &models.UploadSession{
		UploadID:       uploadID,
		FileID:         fileID,
		FileName:       req.FileName,
		TotalSize:      req.TotalSize,
		ChunkSize:      req.ChunkSize,
		TotalChunks:    totalChunks,
		Scope:          req.Scope,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		UploadedChunks: models.NewChunkSet(),
	}

	if err := e.sessions.Create(ctx, sess, ttl); err != nil {
		if delErr := database.DeleteFile(e.db, fileID); delErr != nil {
			slog.Error("failed to roll back file record", "file_id", fileID, "error", delErr)
		}
		return nil, WrapErr(CodeUpstream, err, "failed to create upload session")
	}

	metrics.UploadsInitiated.Inc()
	slog.Info("upload initiated",
		"upload_id", uploadID,
		"file_id", fileID,
		"total_size", req.TotalSize,
		"total_chunks", totalChunks,
		"expires_at", sess.ExpiresAt,
	)

	return &models.InitiateUploadResponse{
		FileID:      fileID,
		UploadID:    uploadID,
		ChunkSize:   req.ChunkSize,
		TotalChunks: totalChunks,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// loadSession fetches a session and enforces expiry.
func (e *Engine) loadSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	s, err := e.sessions.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, Errorf(CodeNotFound, "upload session %s not found", uploadID)
		}
		return nil, WrapErr(CodeUpstream, err, "failed to load upload session")
	}

	if s.Expired(time.Now().UTC()) {
		return nil, Errorf(CodeExpired, "upload session %s expired at %s", uploadID, s.ExpiresAt.Format(time.RFC3339))
	}

	return s, nil
}

// AuthorizeChunk issues a write handle for one chunk. On backends that
// support presigning, the handle carries a URL the client PUTs to
// directly; otherwise the client sends the bytes through the chunk
// endpoint and the handle only names the key.
func (e *Engine) AuthorizeChunk(ctx context.Context, uploadID string, chunkNumber int) (*models.ChunkWriteHandle, error) {
	s, err := e.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if chunkNumber < 1 || chunkNumber > s.TotalChunks {
		return nil, Errorf(CodeValidation, "chunk_number %d out of range [1, %d]", chunkNumber, s.TotalChunks)
	}

	key := storage.ChunkKey(uploadID, chunkNumber)
	ttl := time.Duration(e.cfg.SignedURLTTLMinutes) * time.Minute

	url, err := e.blobs.PresignPut(ctx, key, ttl)
	if err != nil && !errors.Is(err, storage.ErrPresignUnsupported) {
		return nil, WrapErr(CodeUpstream, err, "failed to presign chunk write")
	}

	return &models.ChunkWriteHandle{
		UploadID:    uploadID,
		ChunkNumber: chunkNumber,
		Key:         key,
		URL:         url,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}, nil
}

// WriteChunk is the proxied-bytes convenience path: it stores the chunk
// through the server, then acknowledges it. Clients on presign-capable
// backends should PUT to the authorized URL and call AcknowledgeChunk
// themselves.
func (e *Engine) WriteChunk(ctx context.Context, uploadID string, chunkNumber int, body io.Reader, size int64) (*models.ChunkAckResponse, error) {
	s, err := e.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if chunkNumber < 1 || chunkNumber > s.TotalChunks {
		return nil, Errorf(CodeValidation, "chunk_number %d out of range [1, %d]", chunkNumber, s.TotalChunks)
	}

	key := storage.ChunkKey(uploadID, chunkNumber)

	var tag string
	err = retryUpstream(ctx, e.cfg.UpstreamRetryAttempts, "put chunk", func() error {
		var putErr error
		tag, putErr = e.blobs.Put(ctx, key, body, size, "application/octet-stream")
		return putErr
	})
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to store chunk %d", chunkNumber)
	}

	return e.ackChunk(ctx, s, chunkNumber, size, tag)
}

// AcknowledgeChunk records that a chunk's bytes are durably stored. It
// verifies the object is actually present before counting it, so a
// failed client PUT can never produce a false-positive chunk.
func (e *Engine) AcknowledgeChunk(ctx context.Context, uploadID string, chunkNumber int, size int64, tag string) (*models.ChunkAckResponse, error) {
	s, err := e.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if chunkNumber < 1 || chunkNumber > s.TotalChunks {
		return nil, Errorf(CodeValidation, "chunk_number %d out of range [1, %d]", chunkNumber, s.TotalChunks)
	}

	key := storage.ChunkKey(uploadID, chunkNumber)

	var present bool
	err = retryUpstream(ctx, e.cfg.UpstreamRetryAttempts, "check chunk", func() error {
		var existsErr error
		present, existsErr = e.blobs.Exists(ctx, key)
		return existsErr
	})
	if err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to verify chunk %d", chunkNumber)
	}
	if !present {
		return nil, Errorf(CodeValidation, "chunk %d has not been written", chunkNumber)
	}

	return e.ackChunk(ctx, s, chunkNumber, size, tag)
}

// ackChunk records the receipt: audit row, then the session store's
// atomic set-add. Re-acknowledging a chunk number is idempotent.
func (e *Engine) ackChunk(ctx context.Context, s *models.UploadSession, chunkNumber int, size int64, tag string) (*models.ChunkAckResponse, error) {
	if expected := s.ExpectedChunkSize(chunkNumber); size != expected {
		slog.Warn("chunk size mismatch",
			"upload_id", s.UploadID,
			"chunk_number", chunkNumber,
			"expected", expected,
			"actual", size,
		)
	}

	rec := &models.ChunkRecord{
		UploadID:    s.UploadID,
		ChunkNumber: chunkNumber,
		ChunkSize:   size,
		ContentTag:  tag,
		UploadedAt:  time.Now().UTC(),
	}
	if err := database.UpsertChunkRecord(e.db, rec); err != nil {
		return nil, WrapErr(CodeUpstream, err, "failed to record chunk")
	}

	received, err := e.sessions.AddChunk(ctx, s.UploadID, chunkNumber)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, Errorf(CodeNotFound, "upload session %s not found", s.UploadID)
		}
		return nil, WrapErr(CodeUpstream, err, "failed to track chunk")
	}

	metrics.ChunksAcknowledged.Inc()
	slog.Debug("chunk acknowledged",
		"upload_id", s.UploadID,
		"chunk_number", chunkNumber,
		"received", received,
		"total_chunks", s.TotalChunks,
	)

	return &models.ChunkAckResponse{
		UploadID:    s.UploadID,
		ChunkNumber: chunkNumber,
		Received:    received,
		TotalChunks: s.TotalChunks,
		Complete:    received == s.TotalChunks,
	}, nil
}

// Status reports an in-flight session's progress.
func (e *Engine) Status(ctx context.Context, uploadID string) (*models.UploadStatusResponse, error) {
	s, err := e.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	return &models.UploadStatusResponse{
		UploadID:      s.UploadID,
		FileID:        s.FileID,
		FileName:      s.FileName,
		Received:      s.Received(),
		TotalChunks:   s.TotalChunks,
		MissingChunks: s.MissingChunks(),
		Complete:      s.IsComplete(),
		ExpiresAt:     s.ExpiresAt,
	}, nil
}
