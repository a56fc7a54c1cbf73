package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CachedStore wraps a backing SnapshotStore with an in-memory cache. Saves
// land in the cache immediately and are flushed to the backing store in the
// background, so snapshotting never blocks the editing path on disk I/O.
type CachedStore struct {
	cache   *MemoryStore
	backing SnapshotStore
	log     zerolog.Logger

	mu    sync.Mutex
	dirty map[string]bool

	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

// NewCachedStore creates a CachedStore flushing dirty snapshots to the
// backing store every flushInterval.
func NewCachedStore(backing SnapshotStore, flushInterval time.Duration, log zerolog.Logger) *CachedStore {
	cs := &CachedStore{
		cache:         NewMemoryStore(),
		backing:       backing,
		log:           log.With().Str("component", "cached-store").Logger(),
		dirty:         make(map[string]bool),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go cs.flushLoop()
	return cs
}

func (cs *CachedStore) Save(ctx context.Context, snap Snapshot) error {
	if err := cs.cache.Save(ctx, snap); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.dirty[snap.DocumentID] = true
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) Load(ctx context.Context, documentID string) (*Snapshot, error) {
	snap, err := cs.cache.Load(ctx, documentID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// Cache miss — fall back to the backing store and warm the cache.
	snap, err = cs.backing.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := cs.cache.Save(ctx, *snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (cs *CachedStore) List(ctx context.Context) ([]Snapshot, error) {
	return cs.backing.List(ctx)
}

func (cs *CachedStore) Delete(ctx context.Context, documentID string) error {
	if err := cs.cache.Delete(ctx, documentID); err != nil {
		return err
	}
	cs.mu.Lock()
	delete(cs.dirty, documentID)
	cs.mu.Unlock()
	return cs.backing.Delete(ctx, documentID)
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.flush()
		case <-cs.stop:
			cs.flush()
			return
		}
	}
}

// flush writes every dirty snapshot to the backing store. Documents that
// fail stay dirty and are retried next cycle.
func (cs *CachedStore) flush() {
	cs.mu.Lock()
	ids := make([]string, 0, len(cs.dirty))
	for id := range cs.dirty {
		ids = append(ids, id)
	}
	cs.mu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		snap, err := cs.cache.Load(ctx, id)
		if err != nil {
			continue
		}
		if err := cs.backing.Save(ctx, *snap); err != nil {
			cs.log.Warn().Err(err).Str("doc", id).Msg("failed to flush snapshot")
			continue
		}
		cs.mu.Lock()
		// Only clear the flag if no newer save happened meanwhile.
		if cur, cacheErr := cs.cache.Load(ctx, id); cacheErr == nil && cur.SavedAt.Equal(snap.SavedAt) {
			delete(cs.dirty, id)
		}
		cs.mu.Unlock()
	}
}

// Close performs a final flush and stops the background loop.
func (cs *CachedStore) Close() error {
	close(cs.stop)
	<-cs.done
	return nil
}
