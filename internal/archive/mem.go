package archive

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// DefaultMemCapacity is the number of records kept by a MemStore created
// with capacity 0.
const DefaultMemCapacity = 256

var _ Store = (*MemStore)(nil)

// MemStore keeps the most recent records in memory. When full, the oldest
// record is evicted.
type MemStore struct {
	mu    sync.RWMutex
	cap   int
	order []string // oldest first
	byID  map[string]Record
}

// NewMemStore returns a MemStore holding at most capacity records.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = DefaultMemCapacity
	}
	return &MemStore{cap: capacity, byID: make(map[string]Record)}
}

// Save implements Store.
func (m *MemStore) Save(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("archive: record id must not be empty")
	}
	rec.Timeline = slices.Clone(rec.Timeline)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ID]; ok {
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == rec.ID })
	}
	m.byID[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	for len(m.order) > m.cap {
		delete(m.byID, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	rec.Timeline = slices.Clone(rec.Timeline)
	return &rec, nil
}

// Recent implements Store.
func (m *MemStore) Recent(_ context.Context, n int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.order) {
		n = len(m.order)
	}
	out := make([]Record, 0, n)
	for i := len(m.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.byID[m.order[i]])
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
