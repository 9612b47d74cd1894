package storage

import (
	"crypto/sha1" //nolint:gosec // G505: ketama ring hashing, not a security boundary
	"encoding/binary"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// ketamaSelector implements memcache.ServerSelector using a consistent-
// hashing ring, selected when the [memcache] "distribution" option is
// "ketama", "ketama_weighted" or "ketama_hash", or when "ketama" is true and
// no distribution is given (spec.md §4.3). gomemcache ships
// only a modulo ServerList; no ketama implementation appears anywhere in
// the retrieved example pack, so the ring below is hand-rolled rather than
// grounded on a library.
type ketamaSelector struct {
	mu    sync.RWMutex
	ring  []ketamaPoint
	addrs []net.Addr
}

type ketamaPoint struct {
	hash uint32
	addr net.Addr
}

const pointsPerServer = 160

func newKetamaSelector(servers []string) *ketamaSelector {
	k := &ketamaSelector{}
	k.setServers(servers)
	return k
}

func (k *ketamaSelector) setServers(servers []string) {
	addrs := make([]net.Addr, 0, len(servers))
	for _, s := range servers {
		addrs = append(addrs, tcpAddr(s))
	}

	ring := make([]ketamaPoint, 0, len(addrs)*pointsPerServer)
	for _, a := range addrs {
		for i := 0; i < pointsPerServer; i++ {
			h := ketamaHash(a.String(), i)
			ring = append(ring, ketamaPoint{hash: h, addr: a})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	k.mu.Lock()
	k.ring = ring
	k.addrs = addrs
	k.mu.Unlock()
}

func ketamaHash(server string, replica int) uint32 {
	h := sha1.New() //nolint:gosec // not a security use
	h.Write([]byte(server))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(replica))
	h.Write(b[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

func (k *ketamaSelector) PickServer(key string) (net.Addr, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if len(k.ring) == 0 {
		return nil, memcache.ErrNoServers
	}

	h := ketamaHash(key, 0)
	idx := sort.Search(len(k.ring), func(i int) bool { return k.ring[i].hash >= h })
	if idx == len(k.ring) {
		idx = 0
	}
	return k.ring[idx].addr, nil
}

func (k *ketamaSelector) Each(f func(net.Addr) error) error {
	k.mu.RLock()
	addrs := append([]net.Addr(nil), k.addrs...)
	k.mu.RUnlock()

	for _, a := range addrs {
		if err := f(a); err != nil {
			return err
		}
	}
	return nil
}

// tcpAddr parses a host:port string into a net.Addr without resolving it
// eagerly; resolution happens per-dial inside gomemcache.
func tcpAddr(hostport string) net.Addr {
	return staticAddr(hostport)
}

// staticAddr is a net.Addr whose String() is exactly the configured
// host:port, deferring actual resolution to the dialer.
type staticAddr string

func (a staticAddr) Network() string { return "tcp" }
func (a staticAddr) String() string  { return string(a) }

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
