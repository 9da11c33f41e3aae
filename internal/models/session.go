package models

import "time"

// UploadSession is the ephemeral tracking record for one in-progress
// chunked upload. It lives in the session store under a per-key TTL and
// is deleted on finalize or reclaimed by the sweeper after ExpiresAt.
//
// ExpiresAt is fixed at creation and never extended by activity, so a
// session's resource lifetime is bounded regardless of client behavior.
type UploadSession struct {
	UploadID    string    `json:"upload_id"`
	FileID      string    `json:"file_id"`
	FileName    string    `json:"file_name"`
	TotalSize   int64     `json:"total_size"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	Scope       string    `json:"scope,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	// UploadedChunks is the set of acknowledged chunk numbers
	// (1..TotalChunks). It must only be grown through the session
	// store's atomic add; whole-record overwrites lose concurrent
	// acknowledgements.
	UploadedChunks map[int]struct{} `json:"uploaded_chunks"`
}

// NewChunkSet builds an empty chunk set.
func NewChunkSet() map[int]struct{} {
	return make(map[int]struct{})
}

// Received returns the number of acknowledged chunks.
func (s *UploadSession) Received() int {
	return len(s.UploadedChunks)
}

// Contains reports whether chunk n has been acknowledged.
func (s *UploadSession) Contains(n int) bool {
	_, ok := s.UploadedChunks[n]
	return ok
}

// IsComplete reports whether every chunk 1..TotalChunks is acknowledged.
func (s *UploadSession) IsComplete() bool {
	return len(s.UploadedChunks) == s.TotalChunks
}

// Expired reports whether the session's TTL has elapsed at now.
func (s *UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// MissingChunks returns the sorted chunk numbers not yet acknowledged.
func (s *UploadSession) MissingChunks() []int {
	var missing []int
	for n := 1; n <= s.TotalChunks; n++ {
		if !s.Contains(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// ExpectedChunkSize returns the byte size chunk n must have: ChunkSize
// for every chunk but the last, and the remainder for the last one.
func (s *UploadSession) ExpectedChunkSize(n int) int64 {
	if n < s.TotalChunks {
		return s.ChunkSize
	}
	return s.TotalSize - s.ChunkSize*int64(s.TotalChunks-1)
}
