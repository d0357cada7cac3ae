package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]Snapshot
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Snapshot)}
}

func (m *MemoryStore) Load(ctx context.Context, profile string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.items[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, profile)
	}
	s.Data = append([]byte(nil), s.Data...)
	return &s, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	m.items[s.Profile] = cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, profile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.items, profile)
	return nil
}

func (m *MemoryStore) Profiles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(m.items))
	for p := range m.items {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
