// Package metrics provides lightweight, lock-minimal performance counters
// for a running relay instance.
//
// Counters use sync/atomic so hot paths (message classification, relaying)
// incur no mutex contention. Latency statistics and the per-reason drop
// tally use a single mutex each; they are updated at most once per message.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all runtime counters for a running relay instance.
// The zero value is valid and ready to use; prefer New() for clarity.
type Metrics struct {
	// Message counters
	MessagesTotal   atomic.Int64
	MessagesRelayed atomic.Int64
	MessagesDropped atomic.Int64
	BotCommands     atomic.Int64
	AliasesCreated  atomic.Int64

	// Storage/vault health
	StorageErrors  atomic.Int64
	CorruptEntries atomic.Int64

	// Per-reason drop tally (error stanzas, groupchat, unsupported type,
	// unknown bot command, ...)
	dropMu      sync.Mutex
	dropReasons map[string]int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	storageMu   sync.Mutex
	storageStat latencyStats

	sendMu   sync.Mutex
	sendStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded.
func New() *Metrics {
	return &Metrics{
		startTime:   time.Now(),
		dropReasons: make(map[string]int64),
	}
}

// RecordDrop increments both the aggregate drop counter and the tally for
// the given reason (e.g. "error_stanza", "groupchat", "unsupported_type",
// "unknown_command", "no_mapping").
func (m *Metrics) RecordDrop(reason string) {
	m.MessagesDropped.Add(1)
	m.dropMu.Lock()
	if m.dropReasons == nil {
		m.dropReasons = make(map[string]int64)
	}
	m.dropReasons[reason]++
	m.dropMu.Unlock()
}

// RecordStorageLatency records the duration of one storage round trip
// (vault Get/Set, which includes the AES-CBC and hashing work).
func (m *Metrics) RecordStorageLatency(d time.Duration) {
	m.storageMu.Lock()
	m.storageStat.record(float64(d.Microseconds()) / 1000.0)
	m.storageMu.Unlock()
}

// RecordSendLatency records the duration of handing a rewritten stanza to
// the outbound transport.
func (m *Metrics) RecordSendLatency(d time.Duration) {
	m.sendMu.Lock()
	m.sendStat.record(float64(d.Microseconds()) / 1000.0)
	m.sendMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.storageMu.Lock()
	storage := m.storageStat.snapshot()
	m.storageMu.Unlock()

	m.sendMu.Lock()
	send := m.sendStat.snapshot()
	m.sendMu.Unlock()

	m.dropMu.Lock()
	reasons := make(map[string]int64, len(m.dropReasons))
	for k, v := range m.dropReasons {
		if v != 0 {
			reasons[k] = v
		}
	}
	m.dropMu.Unlock()

	return Snapshot{
		Messages: MessageSnapshot{
			Total:    m.MessagesTotal.Load(),
			Relayed:  m.MessagesRelayed.Load(),
			Dropped:  m.MessagesDropped.Load(),
			Commands: m.BotCommands.Load(),
			Aliased:  m.AliasesCreated.Load(),
		},
		Storage: StorageSnapshot{
			Errors:         m.StorageErrors.Load(),
			CorruptEntries: m.CorruptEntries.Load(),
		},
		DropReasons: reasons,
		Latency: LatencyGroup{
			StorageMs: storage,
			SendMs:    send,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Messages    MessageSnapshot  `json:"messages"`
	Storage     StorageSnapshot  `json:"storage"`
	DropReasons map[string]int64 `json:"dropReasons"`
	Latency     LatencyGroup     `json:"latency"`
	UptimeSecs  float64          `json:"uptimeSecs"`
}

// MessageSnapshot holds message-level counters.
type MessageSnapshot struct {
	Total    int64 `json:"total"`
	Relayed  int64 `json:"relayed"`
	Dropped  int64 `json:"dropped"`
	Commands int64 `json:"commands"`
	Aliased  int64 `json:"aliased"`
}

// StorageSnapshot holds storage/vault health counters.
type StorageSnapshot struct {
	Errors         int64 `json:"errors"`
	CorruptEntries int64 `json:"corruptEntries"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	StorageMs LatencySnapshot `json:"storageMs"`
	SendMs    LatencySnapshot `json:"sendMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
