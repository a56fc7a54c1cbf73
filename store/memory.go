package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory implementation of SnapshotStore.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.DocumentID] = snap
	return nil
}

func (s *MemoryStore) Load(_ context.Context, documentID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[documentID]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", documentID, ErrNotFound)
	}
	return &snap, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		result = append(result, snap)
	}
	return result, nil
}

func (s *MemoryStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, documentID)
	return nil
}
