package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the record in process memory. It is the default store
// and the one used by tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores an encoded copy of rec.
func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Load returns a fresh copy of the stored record.
func (s *MemoryStore) Load(ctx context.Context) (*Record, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()

	if data == nil {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// Clear drops the stored record.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
