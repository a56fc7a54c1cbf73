package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for a document.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a point-in-time copy of a synchronized document.
type Snapshot struct {
	DocumentID string    `json:"documentId"`
	Content    string    `json:"content"`
	Version    int       `json:"version"`
	SavedAt    time.Time `json:"savedAt"`
}

// SnapshotStore persists document snapshots on the client, so content
// survives process restarts and is available while offline.
// Implementations: MemoryStore, BoltStore, CachedStore.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, documentID string) (*Snapshot, error)
	List(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, documentID string) error
}
