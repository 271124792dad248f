package collab

import (
	"context"
	"sort"
	"sync"
)

// Store persists collaborations. Implementations need not serialise
// operations on one mindmap; the Registry does that.
type Store interface {
	Get(ctx context.Context, mindmapID int64, collaboratorID string) (Collaboration, error)
	List(ctx context.Context, mindmapID int64) ([]Collaboration, error)
	ListByCollaborator(ctx context.Context, collaboratorID string) ([]Collaboration, error)
	Put(ctx context.Context, c Collaboration) error
	Delete(ctx context.Context, mindmapID int64, collaboratorID string) error
	DeleteAll(ctx context.Context, mindmapID int64) (int, error)
}

// MemoryStore keeps collaborations in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[int64]map[string]Collaboration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]map[string]Collaboration)}
}

func (m *MemoryStore) Get(_ context.Context, mindmapID int64, collaboratorID string) (Collaboration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[mindmapID][collaboratorID]
	if !ok {
		return Collaboration{}, ErrCollaborationNotFound
	}
	return c, nil
}

func (m *MemoryStore) List(_ context.Context, mindmapID int64) ([]Collaboration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Collaboration, 0, len(m.byID[mindmapID]))
	for _, c := range m.byID[mindmapID] {
		out = append(out, c)
	}
	sortCollaborations(out)
	return out, nil
}

func (m *MemoryStore) ListByCollaborator(_ context.Context, collaboratorID string) ([]Collaboration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Collaboration
	for _, set := range m.byID {
		if c, ok := set[collaboratorID]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MindmapID < out[j].MindmapID })
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, c Collaboration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byID[c.MindmapID]
	if !ok {
		set = make(map[string]Collaboration)
		m.byID[c.MindmapID] = set
	}
	set[c.Collaborator.ID] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, mindmapID int64, collaboratorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byID[mindmapID]
	if _, ok := set[collaboratorID]; !ok {
		return ErrCollaborationNotFound
	}
	delete(set, collaboratorID)
	if len(set) == 0 {
		delete(m.byID, mindmapID)
	}
	return nil
}

func (m *MemoryStore) DeleteAll(_ context.Context, mindmapID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.byID[mindmapID])
	delete(m.byID, mindmapID)
	return n, nil
}

func sortCollaborations(cs []Collaboration) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Collaborator.ID < cs[j].Collaborator.ID })
}
