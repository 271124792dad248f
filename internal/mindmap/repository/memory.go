package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
)

var (
	ErrNotFound = errors.New("mindmap not found")
)

// Repository stores mindmap metadata. Content is kept in the content store
// and is never persisted here.
type Repository interface {
	Create(ctx context.Context, d *mindmap.Document) (int64, error)
	Get(ctx context.Context, id int64) (*mindmap.Document, error)
	List(ctx context.Context, ids []int64) ([]*mindmap.Document, error)
	Save(ctx context.Context, d *mindmap.Document) error
	Delete(ctx context.Context, id int64) error
}

// MemoryRepo is an in-memory repository used for tests and single-node runs.
type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	store  map[int64]*mindmap.Document
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[int64]*mindmap.Document)}
}

func metadata(d *mindmap.Document) *mindmap.Document {
	c := d.Clone()
	c.Content = nil
	return c
}

// Create assigns the next id to d and stores it.
func (m *MemoryRepo) Create(_ context.Context, d *mindmap.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	m.store[d.ID] = metadata(d)
	return d.ID, nil
}

func (m *MemoryRepo) Get(_ context.Context, id int64) (*mindmap.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

// List returns the documents with the given ids, skipping unknown ones,
// most recently modified first.
func (m *MemoryRepo) List(_ context.Context, ids []int64) ([]*mindmap.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*mindmap.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.store[id]; ok {
			out = append(out, d.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

func (m *MemoryRepo) Save(_ context.Context, d *mindmap.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[d.ID]; !ok {
		return ErrNotFound
	}
	m.store[d.ID] = metadata(d)
	return nil
}

func (m *MemoryRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}
