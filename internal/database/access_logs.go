package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/filedepot/filedepot/internal/models"
)

// LogFileAccess writes an audit entry. Failures are logged and swallowed;
// access logging never fails the operation it annotates.
func LogFileAccess(db *sql.DB, fileID string, accessType models.AccessType, userID string) {
	query := `
		INSERT INTO access_logs (file_id, access_type, user_id, accessed_at)
		VALUES (?, ?, ?, ?)
	`

	if _, err := db.Exec(query, fileID, string(accessType), userID, time.Now().UTC()); err != nil {
		slog.Warn("failed to log file access",
			"file_id", fileID,
			"access_type", accessType,
			"error", err,
		)
	}
}

// PruneAccessLogs deletes audit entries older than the cutoff and returns
// the number removed.
func PruneAccessLogs(db *sql.DB, cutoff time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM access_logs WHERE accessed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune access logs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CountAccessLogs returns the number of audit entries for a file.
func CountAccessLogs(db *sql.DB, fileID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM access_logs WHERE file_id = ?`, fileID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count access logs: %w", err)
	}
	return count, nil
}
