package models

import "time"

// UploadStatus is the lifecycle state of a file record.
// COMPLETED is the only state in which the file's content is durably
// addressable; the (ContentHash, Scope) dedup constraint applies only to
// COMPLETED records that opted into deduplication.
type UploadStatus string

const (
	StatusPending   UploadStatus = "PENDING"
	StatusUploading UploadStatus = "UPLOADING"
	StatusCompleted UploadStatus = "COMPLETED"
	StatusFailed    UploadStatus = "FAILED"
	StatusExpired   UploadStatus = "EXPIRED"
)

// Valid reports whether s is one of the five known statuses.
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether s is a final state for a file ID.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// FileRecord is the metadata row for one stored (or in-flight) file.
// FileID is immutable once assigned. Status must only be mutated through
// the database layer's compare-and-set transition.
type FileRecord struct {
	FileID           string       `json:"file_id"`
	FileName         string       `json:"file_name"`
	OriginalFilename string       `json:"original_filename"`
	FileSize         int64        `json:"file_size"`
	MimeType         string       `json:"mime_type"`
	ContentHash      string       `json:"content_hash"`
	StorageBucket    string       `json:"storage_bucket"`
	StorageKey       string       `json:"storage_key"`
	Status           UploadStatus `json:"status"`
	Scope            string       `json:"scope,omitempty"`
	Dedup            bool         `json:"dedup"`
	CreatedBy        string       `json:"created_by"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
}

// AccessType categorizes entries in the file access log.
type AccessType string

const (
	AccessUpload   AccessType = "UPLOAD"
	AccessDownload AccessType = "DOWNLOAD"
	AccessView     AccessType = "VIEW"
	AccessDelete   AccessType = "DELETE"
)

// AccessLogRecord is one audit entry. Writes are best-effort and old
// entries are pruned by the sweeper.
type AccessLogRecord struct {
	ID         int64      `json:"id"`
	FileID     string     `json:"file_id"`
	AccessType AccessType `json:"access_type"`
	UserID     string     `json:"user_id,omitempty"`
	AccessedAt time.Time  `json:"accessed_at"`
}

// FileQuery is the filter set for listing files.
type FileQuery struct {
	Scope         string
	CreatedBy     string
	MimeTypes     []string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Page          int
	PageSize      int
}

// FileQueryResult is a page of file records plus the unpaged total.
type FileQueryResult struct {
	Files []FileRecord `json:"files"`
	Total int64        `json:"total"`
}
