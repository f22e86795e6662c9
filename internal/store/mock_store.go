// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.Mutex
	counters    map[string]uint64      // keyed by prefix
	assignments map[string]*Assignment // keyed by "prefix|owner"
	addresses   map[string]string      // keyed by address -> assignment key

	// NextCounterErr, when set, is returned by NextCounter.
	NextCounterErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		counters:    make(map[string]uint64),
		assignments: make(map[string]*Assignment),
		addresses:   make(map[string]string),
	}
}

func assignmentKey(prefix, owner string) string {
	return prefix + "|" + owner
}

// NextCounter increments and returns the counter for prefix.
func (m *MockStore) NextCounter(ctx context.Context, prefix string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextCounterErr != nil {
		return 0, m.NextCounterErr
	}
	m.counters[prefix]++
	return m.counters[prefix], nil
}

// GetAssignment returns a copy of owner's assignment under prefix.
func (m *MockStore) GetAssignment(ctx context.Context, prefix, owner string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[assignmentKey(prefix, owner)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// SaveAssignment stores a copy of a.
func (m *MockStore) SaveAssignment(ctx context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assignmentKey(a.Prefix, a.Owner)
	if _, ok := m.assignments[key]; ok {
		return ErrDuplicateAssignment
	}
	if _, ok := m.addresses[a.Address]; ok {
		return ErrDuplicateAssignment
	}

	cp := *a
	m.assignments[key] = &cp
	m.addresses[a.Address] = key
	return nil
}

// ListAssignments returns copies of every assignment under prefix, oldest first.
func (m *MockStore) ListAssignments(ctx context.Context, prefix string) ([]*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Assignment
	for _, a := range m.assignments {
		if a.Prefix == prefix {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Counter < out[j].Counter
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteAssignment removes owner's assignment under prefix.
func (m *MockStore) DeleteAssignment(ctx context.Context, prefix, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assignmentKey(prefix, owner)
	a, ok := m.assignments[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.assignments, key)
	delete(m.addresses, a.Address)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
