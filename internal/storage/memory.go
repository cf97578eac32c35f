package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory backend. It is used for tests and for
// sessions where nothing should persist. An optional quota (total bytes
// across all values) lets callers exercise quota recovery.
type MemoryStore struct {
	items       map[string][]byte
	quota       int
	unavailable bool
	closed      bool
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory backend without a quota.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
	}
}

// NewMemoryStoreWithQuota creates an in-memory backend that rejects writes
// pushing the total stored size above quota bytes.
func NewMemoryStoreWithQuota(quota int) *MemoryStore {
	s := NewMemoryStore()
	s.quota = quota
	return s
}

// GetItem returns a copy of the stored value.
func (s *MemoryStore) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrClosed
	}
	if s.unavailable {
		return nil, false, ErrUnavailable
	}
	value, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// SetItem stores a copy of value.
func (s *MemoryStore) SetItem(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.unavailable {
		return ErrUnavailable
	}
	if s.quota > 0 {
		total := len(value)
		for k, v := range s.items {
			if k != key {
				total += len(v)
			}
		}
		if total > s.quota {
			return ErrQuotaExceeded
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.items[key] = stored
	return nil
}

// RemoveItem deletes key.
func (s *MemoryStore) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.unavailable {
		return ErrUnavailable
	}
	delete(s.items, key)
	return nil
}

// Close marks the store closed; later calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetUnavailable toggles simulated backend absence (for testing).
func (s *MemoryStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// Raw returns the stored bytes without decoding (for testing).
func (s *MemoryStore) Raw(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Seed writes values directly, bypassing quota checks (for testing).
func (s *MemoryStore) Seed(items map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range items {
		stored := make([]byte, len(v))
		copy(stored, v)
		s.items[k] = stored
	}
}

// Reset clears all values (for testing).
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string][]byte)
}
