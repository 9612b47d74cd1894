package storage

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheConfig mirrors the [memcache] config section of spec.md §4.3.
// Fields left at their zero value are not sent to the client.
// ConnectTimeoutMillis is translated to memcache.Client's Timeout (which
// applies to the whole round trip, not per-phase, since gomemcache does not
// expose separate connect/receive/send timeouts); ReceiveTimeoutMillis and
// SendTimeoutMillis are carried but not applied to the client, and neither
// are Username and Password.
type MemcacheConfig struct {
	Servers  []string
	Username string
	Password string

	// Distribution selects the consistent-hashing strategy. One of
	// "ketama", "ketama_weighted", "distribution", "ketama_hash", "hash".
	// Any other value is rejected by NewMemcacheStore.
	Distribution string

	MaxIdleConns int // pool sizing, from the max_idle_conns option

	ConnectTimeoutMillis int
	ReceiveTimeoutMillis int
	SendTimeoutMillis    int
}

// MemcacheStore is a Store backed by a distributed memcache cluster.
// Keys are UTF-8 encoded; values are base64-encoded before being handed to
// the cluster, exactly as the Python source's MemcacheStorage does. A
// connection pool is kept by the underlying client; each operation
// acquires a connection, performs one request, releases it.
type MemcacheStore struct {
	client   *memcache.Client
	selector memcache.ServerSelector
}

// NewMemcacheStore builds a MemcacheStore from cfg. The consistent-hashing
// knob selects between the stock modulo selector (gomemcache's default) and
// a small internal ketama-style ring for the "ketama", "ketama_weighted" and
// "ketama_hash" distributions — gomemcache itself ships only the modulo
// selector.
func NewMemcacheStore(cfg MemcacheConfig) (*MemcacheStore, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("memcache: no servers configured")
	}

	var selector memcache.ServerSelector
	switch cfg.Distribution {
	case "", "hash", "distribution":
		sl := new(memcache.ServerList)
		if err := sl.SetServers(cfg.Servers...); err != nil {
			return nil, fmt.Errorf("memcache: configure server list: %w", err)
		}
		selector = sl
	case "ketama", "ketama_weighted", "ketama_hash":
		selector = newKetamaSelector(cfg.Servers)
	default:
		return nil, fmt.Errorf("memcache: unknown distribution %q", cfg.Distribution)
	}

	client := memcache.NewFromSelector(selector)
	if cfg.MaxIdleConns > 0 {
		client.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnectTimeoutMillis > 0 {
		client.Timeout = millis(cfg.ConnectTimeoutMillis)
	}

	return &MemcacheStore{client: client, selector: selector}, nil
}

func (s *MemcacheStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	item, err := s.client.Get(packKey(key))
	if err == memcache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := unpackVal(item.Value)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *MemcacheStore) Set(_ context.Context, key, val []byte) error {
	return s.client.Set(&memcache.Item{
		Key:   packKey(key),
		Value: packVal(val),
	})
}

func (s *MemcacheStore) Delete(_ context.Context, key []byte) error {
	err := s.client.Delete(packKey(key))
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}

// packKey UTF-8 encodes key for the wire. Go strings/[]byte are already
// UTF-8 by convention; this exists to name the step the Python source's
// _pack_key performs explicitly.
func packKey(key []byte) string {
	return string(key)
}

func packVal(val []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(val)))
	base64.StdEncoding.Encode(out, val)
	return out
}

func unpackVal(val []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(val)))
	n, err := base64.StdEncoding.Decode(out, val)
	if err != nil {
		return nil, fmt.Errorf("memcache: decode value: %w", err)
	}
	return out[:n], nil
}
