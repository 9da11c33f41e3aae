package upload

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/session"
	"github.com/filedepot/filedepot/internal/storage"
)

// Sweeper reclaims abandoned upload state on a fixed interval. Its four
// passes are individually fault-isolated: a failing pass logs and the
// others still run. Every pass is idempotent, so overlapping or repeated
// runs find nothing extra to do.
type Sweeper struct {
	db       *sql.DB
	sessions session.Store
	blobs    storage.BlobStore
	cfg      *config.Config
}

// NewSweeper creates a Sweeper.
func NewSweeper(db *sql.DB, sessions session.Store, blobs storage.BlobStore, cfg *config.Config) *Sweeper {
	return &Sweeper{
		db:       db,
		sessions: sessions,
		blobs:    blobs,
		cfg:      cfg,
	}
}

// Run ticks until ctx is cancelled. An initial sweep fires immediately
// so a restart doesn't wait a full interval to reclaim stale state.
func (sw *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(sw.cfg.SweepIntervalMinutes) * time.Minute
	slog.Info("cleanup sweeper started", "interval", interval)

	sw.Sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup sweeper stopped")
			return
		case <-ticker.C:
			sw.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep runs the four reclamation passes once.
func (sw *Sweeper) Sweep(ctx context.Context, now time.Time) {
	metrics.SweepRuns.Inc()

	if err := sw.sweepExpiredSessions(ctx, now); err != nil {
		slog.Error("expired-session sweep failed", "error", err)
	}
	if err := sw.sweepFailedFiles(ctx, now); err != nil {
		slog.Error("failed-file sweep failed", "error", err)
	}
	if err := sw.sweepExpiredFiles(now); err != nil {
		slog.Error("expired-file sweep failed", "error", err)
	}
	if err := sw.sweepAccessLogs(now); err != nil {
		slog.Error("access-log sweep failed", "error", err)
	}
}

// sweepExpiredSessions removes sessions past their TTL along with their
// not-yet-composed chunk objects, and fails the orphaned file records so
// the retention pass can reclaim them later.
func (sw *Sweeper) sweepExpiredSessions(ctx context.Context, now time.Time) error {
	expired, err := sw.sessions.Expired(ctx, now)
	if err != nil {
		return err
	}

	for _, s := range expired {
		keys := storage.ChunkKeys(s.UploadID, s.TotalChunks)
		for _, key := range keys {
			if err := sw.blobs.Delete(ctx, key); err != nil {
				slog.Warn("failed to delete stale chunk object", "key", key, "error", err)
			}
		}

		if err := database.DeleteChunkRecords(sw.db, s.UploadID); err != nil {
			slog.Warn("failed to delete stale chunk records", "upload_id", s.UploadID, "error", err)
		}

		if _, err := database.TransitionFileStatus(sw.db, s.FileID,
			[]models.UploadStatus{models.StatusPending, models.StatusUploading},
			models.StatusFailed); err != nil {
			slog.Warn("failed to fail orphaned file record", "file_id", s.FileID, "error", err)
		}

		if err := sw.sessions.Delete(ctx, s.UploadID); err != nil {
			slog.Warn("failed to delete expired session", "upload_id", s.UploadID, "error", err)
			continue
		}

		metrics.SessionsReclaimed.Inc()
		slog.Info("expired session reclaimed",
			"upload_id", s.UploadID,
			"file_id", s.FileID,
			"chunks", len(keys),
		)
	}

	return nil
}

// sweepFailedFiles deletes FAILED records past the retention window,
// including any blob they may have written.
func (sw *Sweeper) sweepFailedFiles(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -sw.cfg.FailedRetentionDays)

	failed, err := database.GetFailedFilesOlderThan(sw.db, cutoff)
	if err != nil {
		return err
	}

	for _, f := range failed {
		if f.StorageKey != "" {
			if err := sw.blobs.Delete(ctx, f.StorageKey); err != nil {
				slog.Warn("failed to delete blob of failed file", "file_id", f.FileID, "error", err)
				continue
			}
		}

		if err := database.DeleteFile(sw.db, f.FileID); err != nil {
			slog.Warn("failed to delete failed file record", "file_id", f.FileID, "error", err)
			continue
		}

		slog.Info("failed upload reclaimed", "file_id", f.FileID, "failed_at", f.UpdatedAt)
	}

	return nil
}

// sweepExpiredFiles flips COMPLETED records past their expires_at to
// EXPIRED. Metadata only; the blobs stay until an operator decides
// otherwise.
func (sw *Sweeper) sweepExpiredFiles(now time.Time) error {
	n, err := database.MarkExpiredFiles(sw.db, now)
	if err != nil {
		return err
	}

	if n > 0 {
		slog.Info("completed files marked expired", "count", n)
	}
	return nil
}

// sweepAccessLogs prunes audit entries past the retention window.
func (sw *Sweeper) sweepAccessLogs(now time.Time) error {
	cutoff := now.AddDate(0, 0, -sw.cfg.AccessLogRetentionDays)

	n, err := database.PruneAccessLogs(sw.db, cutoff)
	if err != nil {
		return err
	}

	if n > 0 {
		slog.Info("access logs pruned", "count", n)
	}
	return nil
}
