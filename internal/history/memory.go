package history

import (
	"context"
	"sync"
)

// MemoryBackend keeps revisions in process memory, oldest first per mindmap.
type MemoryBackend struct {
	mu   sync.RWMutex
	revs map[int64][]Revision
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{revs: make(map[int64][]Revision)}
}

func (m *MemoryBackend) Insert(_ context.Context, r Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.revs[r.MindmapID] {
		if existing.ID == r.ID {
			return ErrDuplicateRevision
		}
	}
	m.revs[r.MindmapID] = append(m.revs[r.MindmapID], r.clone())
	return nil
}

func (m *MemoryBackend) List(_ context.Context, mindmapID int64) ([]Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.revs[mindmapID]
	out := make([]Revision, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i].clone())
	}
	return out, nil
}

func (m *MemoryBackend) Get(_ context.Context, mindmapID, id int64) (Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.revs[mindmapID] {
		if r.ID == id {
			return r.clone(), nil
		}
	}
	return Revision{}, ErrRevisionNotFound
}

func (m *MemoryBackend) Latest(_ context.Context, mindmapID int64) (Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.revs[mindmapID]
	if len(src) == 0 {
		return Revision{}, ErrRevisionNotFound
	}
	return src[len(src)-1].clone(), nil
}

func (m *MemoryBackend) DeleteAll(_ context.Context, mindmapID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.revs[mindmapID])
	delete(m.revs, mindmapID)
	return n, nil
}
