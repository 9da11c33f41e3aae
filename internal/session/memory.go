package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filedepot/filedepot/internal/models"
)

// MemoryStore is the single-node Store implementation. All mutations for
// a key are serialized under one mutex, which makes AddChunk trivially
// linearizable.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	session  models.UploadSession
	deadline time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

// Create stores a new session. The stored copy owns its own chunk set so
// later caller mutations cannot bypass AddChunk.
func (m *MemoryStore) Create(ctx context.Context, s *models.UploadSession, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.UploadID]; exists {
		return fmt.Errorf("session %s already exists", s.UploadID)
	}

	stored := *s
	stored.UploadedChunks = models.NewChunkSet()
	for n := range s.UploadedChunks {
		stored.UploadedChunks[n] = struct{}{}
	}

	m.sessions[s.UploadID] = &memoryEntry{
		session:  stored,
		deadline: time.Now().Add(ttl),
	}

	return nil
}

// Get returns a copy of the session so callers can't mutate shared state.
func (m *MemoryStore) Get(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[uploadID]
	if !ok {
		return nil, ErrNotFound
	}

	out := entry.session
	out.UploadedChunks = models.NewChunkSet()
	for n := range entry.session.UploadedChunks {
		out.UploadedChunks[n] = struct{}{}
	}

	return &out, nil
}

// AddChunk adds a chunk number to the session's set.
func (m *MemoryStore) AddChunk(ctx context.Context, uploadID string, chunkNumber int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[uploadID]
	if !ok {
		return 0, ErrNotFound
	}

	entry.session.UploadedChunks[chunkNumber] = struct{}{}
	return len(entry.session.UploadedChunks), nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(ctx context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, uploadID)
	return nil
}

// Expired returns copies of sessions past their ExpiresAt.
func (m *MemoryStore) Expired(ctx context.Context, now time.Time) ([]models.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []models.UploadSession
	for _, entry := range m.sessions {
		if now.After(entry.session.ExpiresAt) {
			out := entry.session
			out.UploadedChunks = models.NewChunkSet()
			for n := range entry.session.UploadedChunks {
				out.UploadedChunks[n] = struct{}{}
			}
			expired = append(expired, out)
		}
	}

	return expired, nil
}
