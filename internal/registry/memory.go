package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a concurrency-safe in-memory Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

// List implements Repository.List.
func (m *MemoryRepository) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out, nil
}

// Get implements Repository.Get.
func (m *MemoryRepository) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// Create implements Repository.Create.
func (m *MemoryRepository) Create(_ context.Context, r Record) (Record, error) {
	r, err := normalize(r)
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.urlTakenLocked(r.URL, "") {
		return Record{}, duplicateURL(r.URL)
	}

	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	m.records[r.ID] = r
	return r, nil
}

// Update implements Repository.Update.
func (m *MemoryRepository) Update(_ context.Context, id string, f Fields) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	next, err := normalize(f.Apply(cur))
	if err != nil {
		return Record{}, err
	}
	if m.urlTakenLocked(next.URL, id) {
		return Record{}, duplicateURL(next.URL)
	}
	m.records[id] = next
	return next, nil
}

// Delete implements Repository.Delete.
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// Close implements Repository.Close.
func (m *MemoryRepository) Close() error { return nil }

// urlTakenLocked reports whether another record than except uses url.
// Caller must hold m.mu.
func (m *MemoryRepository) urlTakenLocked(url, except string) bool {
	for id, r := range m.records {
		if id != except && r.URL == url {
			return true
		}
	}
	return false
}

func sortNewestFirst(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
