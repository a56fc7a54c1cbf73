package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("snapshots")

// BoltStore is a bbolt-backed implementation of SnapshotStore, keeping
// snapshots in a single local database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the snapshot database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(_ context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(snap.DocumentID), data)
	})
}

func (s *BoltStore) Load(_ context.Context, documentID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(snapshotBucket).Get([]byte(documentID))
		if data == nil {
			return fmt.Errorf("document %q: %w", documentID, ErrNotFound)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) List(_ context.Context) ([]Snapshot, error) {
	var result []Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).ForEach(func(_, data []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return err
			}
			result = append(result, snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) Delete(_ context.Context, documentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Delete([]byte(documentID))
	})
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
