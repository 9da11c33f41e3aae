// Package mock provides an in-memory BlobStore for testing.
package mock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filedepot/filedepot/internal/storage"
)

// MockStore is an in-memory storage backend for tests. Error fields
// inject failures per operation; ComposeCalls counts Compose invocations
// so tests can assert single-flight finalization.
type MockStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	ComposeCalls atomic.Int64

	PutError      error
	RetrieveError error
	DeleteError   error
	ExistsError   error
	ComposeError  error
	PresignError  error
	Presign       bool // When true, Presign* return fake URLs instead of ErrPresignUnsupported
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects: make(map[string][]byte),
	}
}

var _ storage.BlobStore = (*MockStore)(nil)

func (m *MockStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	if m.PutError != nil {
		return "", m.PutError
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", storage.NewStorageError("Put", key, err)
	}

	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (m *MockStore) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()

	if !ok {
		return nil, storage.NewStorageErrorWithMessage("Retrieve", key, nil, "object not found")
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()

	return nil
}

func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.ExistsError != nil {
		return false, m.ExistsError
	}

	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()

	return ok, nil
}

func (m *MockStore) Compose(ctx context.Context, orderedKeys []string, destKey string, contentType string) (int64, error) {
	m.ComposeCalls.Add(1)

	if m.ComposeError != nil {
		return 0, m.ComposeError
	}

	var buf bytes.Buffer

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range orderedKeys {
		data, ok := m.objects[key]
		if !ok {
			return 0, storage.NewStorageErrorWithMessage("Compose", key, nil, "source object missing")
		}
		buf.Write(data)
	}

	m.objects[destKey] = buf.Bytes()
	return int64(buf.Len()), nil
}

func (m *MockStore) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.PresignError != nil {
		return "", m.PresignError
	}
	if !m.Presign {
		return "", storage.ErrPresignUnsupported
	}
	return fmt.Sprintf("https://mock.example/put/%s", key), nil
}

func (m *MockStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.PresignError != nil {
		return "", m.PresignError
	}
	if !m.Presign {
		return "", storage.ErrPresignUnsupported
	}
	return fmt.Sprintf("https://mock.example/get/%s", key), nil
}

func (m *MockStore) Bucket() string {
	return "mock-bucket"
}

// Object returns a stored object's bytes, for test assertions.
func (m *MockStore) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	return data, ok
}

// ObjectCount returns the number of stored objects.
func (m *MockStore) ObjectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.objects)
}
