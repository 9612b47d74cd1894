// Package storage implements the pluggable key-value backends that sit
// underneath the non-enumerable store wrapper (internal/vault): an
// in-memory map, an embedded bbolt database, and a distributed memcache
// cluster. Keys and values are opaque byte strings throughout — the
// backends know nothing about addresses, aliases, or encryption.
package storage

import "context"

// Store is the capability set every backend implements: get, set, delete.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ok=false if absent. A non-nil err
	// indicates a backend failure (timeout, connection error); callers
	// that must treat backend failures as absence (per spec's storage
	// read policy) do so explicitly, Get itself never hides the error.
	Get(ctx context.Context, key []byte) (val []byte, ok bool, err error)

	// Set stores key -> val, overwriting any existing entry.
	Set(ctx context.Context, key, val []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key []byte) error
}

// NullStore is a Store that performs no operations: Get always misses,
// Set and Delete are no-ops. Used by the hash CLI when no persistence is
// requested (spec.md open question: "deterministic derivation only").
type NullStore struct{}

// NewNullStore returns a Store that discards everything written to it.
func NewNullStore() Store { return NullStore{} }

func (NullStore) Get(context.Context, []byte) ([]byte, bool, error) { return nil, false, nil }
func (NullStore) Set(context.Context, []byte, []byte) error         { return nil }
func (NullStore) Delete(context.Context, []byte) error              { return nil }
