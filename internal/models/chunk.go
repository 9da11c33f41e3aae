package models

import "time"

// ChunkRecord is the durable audit row for one acknowledged chunk.
// (UploadID, ChunkNumber) is unique; re-acknowledging a chunk number
// overwrites the prior record.
type ChunkRecord struct {
	ID          int64     `json:"id"`
	UploadID    string    `json:"upload_id"`
	ChunkNumber int       `json:"chunk_number"`
	ChunkSize   int64     `json:"chunk_size"`
	ContentTag  string    `json:"content_tag,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
