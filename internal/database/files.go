package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/filedepot/filedepot/internal/models"
)

const fileColumns = `
	file_id, file_name, original_filename, file_size, mime_type, content_hash,
	storage_bucket, storage_key, status, scope, dedup, created_by,
	created_at, updated_at, expires_at
`

// CreateFile inserts a new file record. A unique-constraint error means a
// COMPLETED record with the same (content_hash, scope) already exists;
// callers use IsUniqueViolation to detect the lost dedup race.
func CreateFile(db *sql.DB, f *models.FileRecord) error {
	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		f.FileID,
		f.FileName,
		f.OriginalFilename,
		f.FileSize,
		f.MimeType,
		f.ContentHash,
		f.StorageBucket,
		f.StorageKey,
		string(f.Status),
		f.Scope,
		f.Dedup,
		f.CreatedBy,
		f.CreatedAt,
		f.UpdatedAt,
		f.ExpiresAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}

	return nil
}

func scanFile(row interface{ Scan(...any) error }) (*models.FileRecord, error) {
	f := &models.FileRecord{}
	var status string
	var expiresAt sql.NullTime

	err := row.Scan(
		&f.FileID,
		&f.FileName,
		&f.OriginalFilename,
		&f.FileSize,
		&f.MimeType,
		&f.ContentHash,
		&f.StorageBucket,
		&f.StorageKey,
		&status,
		&f.Scope,
		&f.Dedup,
		&f.CreatedBy,
		&f.CreatedAt,
		&f.UpdatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	f.Status = models.UploadStatus(status)
	if expiresAt.Valid {
		f.ExpiresAt = &expiresAt.Time
	}

	return f, nil
}

// GetFile retrieves a file record by ID. Returns (nil, nil) if absent.
func GetFile(db *sql.DB, fileID string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE file_id = ?`

	f, err := scanFile(db.QueryRow(query, fileID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	return f, nil
}

// FindCompletedByHashAndScope returns the COMPLETED record matching the
// dedup key, or (nil, nil) if none exists. Records that opted out of
// deduplication never match.
func FindCompletedByHashAndScope(db *sql.DB, contentHash, scope string) (*models.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + ` FROM files
		WHERE content_hash = ? AND scope = ? AND status = 'COMPLETED' AND dedup = 1
	`

	f, err := scanFile(db.QueryRow(query, contentHash, scope))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file by hash: %w", err)
	}

	return f, nil
}

// TransitionFileStatus atomically moves a file from one of the given
// statuses to the target status. Returns true only for the caller whose
// update actually flipped the row; concurrent finalizers use this as the
// single-flight gate.
func TransitionFileStatus(db *sql.DB, fileID string, from []models.UploadStatus, to models.UploadStatus) (bool, error) {
	placeholders := make([]string, len(from))
	args := []any{string(to), time.Now().UTC(), fileID}
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	query := fmt.Sprintf(
		`UPDATE files SET status = ?, updated_at = ? WHERE file_id = ? AND status IN (%s)`,
		strings.Join(placeholders, ", "),
	)

	result, err := db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition file status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// SetFileStorageLocation persists the composed object's location and MIME
// type after a successful finalize.
func SetFileStorageLocation(db *sql.DB, fileID, bucket, key, mimeType string) error {
	query := `
		UPDATE files
		SET storage_bucket = ?, storage_key = ?, mime_type = ?, updated_at = ?
		WHERE file_id = ?
	`

	_, err := db.Exec(query, bucket, key, mimeType, time.Now().UTC(), fileID)
	if err != nil {
		return fmt.Errorf("failed to set storage location: %w", err)
	}

	return nil
}

// DeleteFile removes a file record.
func DeleteFile(db *sql.DB, fileID string) error {
	_, err := db.Exec(`DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CountFiles returns the total number of file records.
func CountFiles(db *sql.DB) (int64, error) {
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}

// QueryFiles returns a filtered, paged listing plus the unpaged total.
func QueryFiles(db *sql.DB, q models.FileQuery) (*models.FileQueryResult, error) {
	var conds []string
	var args []any

	if q.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, q.Scope)
	}
	if q.CreatedBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, q.CreatedBy)
	}
	if len(q.MimeTypes) > 0 {
		placeholders := make([]string, len(q.MimeTypes))
		for i, mt := range q.MimeTypes {
			placeholders[i] = "?"
			args = append(args, mt)
		}
		conds = append(conds, fmt.Sprintf("mime_type IN (%s)", strings.Join(placeholders, ", ")))
	}
	if !q.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.CreatedAfter)
	}
	if !q.CreatedBefore.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, q.CreatedBefore)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM files`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count query results: %w", err)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := q.Page
	if page < 0 {
		page = 0
	}

	query := `SELECT ` + fileColumns + ` FROM files` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, page*pageSize)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	result := &models.FileQueryResult{Total: total, Files: []models.FileRecord{}}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		result.Files = append(result.Files, *f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	return result, nil
}

// GetFailedFilesOlderThan returns FAILED records whose last update is
// before the cutoff. The sweeper reclaims these after the retention
// window.
func GetFailedFilesOlderThan(db *sql.DB, cutoff time.Time) ([]models.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + ` FROM files
		WHERE status = 'FAILED' AND updated_at < ?
		ORDER BY updated_at ASC
	`

	rows, err := db.Query(query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed files: %w", err)
	}
	defer rows.Close()

	var files []models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed files: %w", err)
	}

	return files, nil
}

// MarkExpiredFiles flips COMPLETED records whose expires_at has passed to
// EXPIRED. Metadata only; blob deletion is an explicit operator action.
func MarkExpiredFiles(db *sql.DB, now time.Time) (int64, error) {
	query := `
		UPDATE files
		SET status = 'EXPIRED', updated_at = ?
		WHERE status = 'COMPLETED' AND expires_at IS NOT NULL AND expires_at < ?
	`

	result, err := db.Exec(query, now.UTC(), now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired files: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
