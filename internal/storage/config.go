package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

var ErrNotFound = errors.New("content not found")

// ContentStore keeps the opaque content of each mindmap.
type ContentStore interface {
	Put(ctx context.Context, mindmapID int64, content []byte) error
	Get(ctx context.Context, mindmapID int64) ([]byte, error)
	Delete(ctx context.Context, mindmapID int64) error
}

// ObjectKey is the object name of a mindmap's content.
func ObjectKey(mindmapID int64) string {
	return fmt.Sprintf("mindmaps/%d/content", mindmapID)
}

// MemoryStore is a ContentStore for tests and single-node runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[int64][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[int64][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, mindmapID int64, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[mindmapID] = append([]byte(nil), content...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, mindmapID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[mindmapID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Delete(_ context.Context, mindmapID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, mindmapID)
	return nil
}
