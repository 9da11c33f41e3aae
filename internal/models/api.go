package models

import "time"

// InitiateUploadRequest is the JSON body for POST /api/upload/init.
type InitiateUploadRequest struct {
	FileName    string `json:"file_name"`
	TotalSize   int64  `json:"total_size"`
	ChunkSize   int64  `json:"chunk_size"`
	MimeType    string `json:"mime_type,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Scope       string `json:"scope,omitempty"`
	CreatedBy   string `json:"created_by"`
	AllowDedup  bool   `json:"allow_dedup"`
}

// InitiateUploadResponse is returned after a session is created. When
// the declared content hash resolves to an existing completed file,
// IsDuplicate is true, UploadID is empty, and no chunks need uploading.
type InitiateUploadResponse struct {
	FileID      string    `json:"file_id"`
	UploadID    string    `json:"upload_id,omitempty"`
	ChunkSize   int64     `json:"chunk_size,omitempty"`
	TotalChunks int       `json:"total_chunks,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
	IsDuplicate bool      `json:"is_duplicate,omitempty"`
}

// ChunkWriteHandle authorizes one chunk write. URL is a presigned PUT
// target when the blob store supports presigning; when it is empty the
// client must send the bytes through the server's chunk endpoint.
type ChunkWriteHandle struct {
	UploadID    string    `json:"upload_id"`
	ChunkNumber int       `json:"chunk_number"`
	Key         string    `json:"key"`
	URL         string    `json:"url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AckChunkRequest is the JSON body for acknowledging a chunk that was
// written through a presigned URL.
type AckChunkRequest struct {
	Size       int64  `json:"size"`
	ContentTag string `json:"content_tag,omitempty"`
}

// ChunkAckResponse reports chunk-receipt progress.
type ChunkAckResponse struct {
	UploadID    string `json:"upload_id"`
	ChunkNumber int    `json:"chunk_number"`
	Received    int    `json:"received"`
	TotalChunks int    `json:"total_chunks"`
	Complete    bool   `json:"complete"`
}

// UploadStatusResponse describes an in-flight session.
type UploadStatusResponse struct {
	UploadID      string    `json:"upload_id"`
	FileID        string    `json:"file_id"`
	FileName      string    `json:"file_name"`
	Received      int       `json:"received"`
	TotalChunks   int       `json:"total_chunks"`
	MissingChunks []int     `json:"missing_chunks,omitempty"`
	Complete      bool      `json:"complete"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CompleteUploadResponse is returned by finalize.
type CompleteUploadResponse struct {
	FileID     string       `json:"file_id"`
	Status     UploadStatus `json:"status"`
	StorageKey string       `json:"storage_key,omitempty"`
}

// SmallUploadResponse is returned by the single-shot upload path.
type SmallUploadResponse struct {
	FileID      string `json:"file_id"`
	IsDuplicate bool   `json:"is_duplicate"`
}

// DownloadURLResponse carries a presigned download URL.
type DownloadURLResponse struct {
	FileID    string    `json:"file_id"`
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	FileSize  int64     `json:"file_size"`
	MimeType  string    `json:"mime_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the JSON error envelope: a stable machine code plus
// a human message.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TotalFiles    int64  `json:"total_files"`
}
