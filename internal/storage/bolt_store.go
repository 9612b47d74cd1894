package storage

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// aliasBucket is the single bbolt bucket alias records are written to.
const aliasBucket = "alias_records"

// BoltStore is a Store backed by an embedded bbolt database. Entries
// survive process restarts. This is the supplemented persistent form of
// the Python source's in-memory-only LocalStorage, configured via the
// [local_storage] section's "path" option.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the bbolt database at path and ensures
// the alias bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(aliasBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(aliasBucket))
		if b == nil {
			return nil
		}
		v := b.Get(key)
		if v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, val != nil, nil
}

func (s *BoltStore) Set(_ context.Context, key, val []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(aliasBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", aliasBucket)
		}
		return b.Put(key, val)
	})
}

func (s *BoltStore) Delete(_ context.Context, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(aliasBucket))
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

// Close releases the underlying database file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
