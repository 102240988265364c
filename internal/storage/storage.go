package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Load for a key that holds no blob.
var ErrNotFound = errors.New("blob not found")

// Purpose tags what a clip blob holds.
type Purpose string

const (
	PurposeCumulative Purpose = "cumulative"
	PurposeIsolated   Purpose = "isolated"
)

// Key namespaces a clip blob by project, clip and purpose.
func Key(projectID, clipID string, purpose Purpose) string {
	return fmt.Sprintf("audio:%s:%s:%s", projectID, clipID, purpose)
}

// BlobStore is a key-value store for encoded audio.
type BlobStore interface {
	// Save stores data under key and returns the key to reference it by.
	Save(ctx context.Context, key string, data []byte) (string, error)
	// Load returns the blob or an error wrapping ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Delete removes a blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	m.blobs[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return key, nil
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
