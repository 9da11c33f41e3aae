package database

import (
	"database/sql"
	"fmt"

	"github.com/filedepot/filedepot/internal/models"
)

// UpsertChunkRecord records a chunk acknowledgement. Re-acknowledging a
// chunk number overwrites the prior row, matching the idempotent
// re-upload contract.
func UpsertChunkRecord(db *sql.DB, c *models.ChunkRecord) error {
	query := `
		INSERT INTO chunks (upload_id, chunk_number, chunk_size, content_tag, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(upload_id, chunk_number) DO UPDATE SET
			chunk_size = excluded.chunk_size,
			content_tag = excluded.content_tag,
			uploaded_at = excluded.uploaded_at
	`

	_, err := db.Exec(query, c.UploadID, c.ChunkNumber, c.ChunkSize, c.ContentTag, c.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk record: %w", err)
	}

	return nil
}

// GetChunkRecords returns the audit rows for an upload, ordered by chunk
// number.
func GetChunkRecords(db *sql.DB, uploadID string) ([]models.ChunkRecord, error) {
	query := `
		SELECT id, upload_id, chunk_number, chunk_size, content_tag, uploaded_at
		FROM chunks
		WHERE upload_id = ?
		ORDER BY chunk_number ASC
	`

	rows, err := db.Query(query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk records: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkRecord
	for rows.Next() {
		var c models.ChunkRecord
		var tag sql.NullString

		if err := rows.Scan(&c.ID, &c.UploadID, &c.ChunkNumber, &c.ChunkSize, &tag, &c.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk record: %w", err)
		}
		if tag.Valid {
			c.ContentTag = tag.String
		}

		chunks = append(chunks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunk records: %w", err)
	}

	return chunks, nil
}

// DeleteChunkRecords removes all audit rows for an upload.
func DeleteChunkRecords(db *sql.DB, uploadID string) error {
	_, err := db.Exec(`DELETE FROM chunks WHERE upload_id = ?`, uploadID)
	if err != nil {
		return fmt.Errorf("failed to delete chunk records: %w", err)
	}
	return nil
}
