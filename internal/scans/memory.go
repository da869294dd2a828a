package scans

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps scans in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]Scan
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]Scan), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, s *Scan) error {
	if err := prepare(s, m.now()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser[s.UserID] = append(m.byUser[s.UserID], *s)
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string) ([]Scan, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	m.mu.RLock()
	out := append([]Scan(nil), m.byUser[userID]...)
	m.mu.RUnlock()

	// stable on insertion order for equal timestamps: later saves first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
