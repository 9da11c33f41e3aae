// Package session provides the ephemeral store for in-progress upload
// sessions: a KV contract with per-key TTL and an atomic add-chunk
// primitive.
//
// The atomic add matters: chunk acknowledgements for one upload arrive
// concurrently, and a read-modify-write of the whole session record loses
// updates. Both implementations guarantee that AddChunk is linearizable,
// so a finalize that reads the session afterwards observes every add that
// completed before it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/filedepot/filedepot/internal/models"
)

// ErrNotFound is returned when no session exists for the given upload ID.
var ErrNotFound = errors.New("upload session not found")

// Store is the session-store contract consumed by the upload engine.
type Store interface {
	// Create stores a new session under its upload ID with the given
	// TTL. Fails if a session with that ID already exists.
	Create(ctx context.Context, s *models.UploadSession, ttl time.Duration) error

	// Get returns the session, including one past its ExpiresAt that
	// has not yet been reclaimed; expiry policy belongs to the caller.
	// Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, uploadID string) (*models.UploadSession, error)

	// AddChunk atomically adds a chunk number to the session's set and
	// returns the resulting count. Adding a number twice is a no-op.
	AddChunk(ctx context.Context, uploadID string, chunkNumber int) (int, error)

	// Delete removes the session. Deleting an absent key is a no-op.
	Delete(ctx context.Context, uploadID string) error

	// Expired returns sessions whose ExpiresAt precedes now, for the
	// sweeper to reclaim.
	Expired(ctx context.Context, now time.Time) ([]models.UploadSession, error)
}
