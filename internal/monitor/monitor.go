// Package monitor holds the counters shared between a sinker/extractor and
// the supervisor, matching spec.md §9's "cyclic ownership between sinker
// and monitor" note: both sides hold a handle to the same *Monitor, with
// interior mutability via the embedded mutex rather than back-references.
package monitor

import (
	"sync"
	"time"
)

// Counters accumulates throughput since the last flush.
type Counters struct {
	RecordCount uint64
	DataSize    uint64
	InsertNum   uint64
	UpdateNum   uint64
	DeleteNum   uint64
}

// Monitor is the shared, mutex-guarded counter block. A sinker or
// extractor holds one strong reference and the supervisor holds another;
// FlushInterval governs how often TryFlush actually emits (via the
// supplied Emit callback) rather than being a no-op.
type Monitor struct {
	mu            sync.Mutex
	counters      Counters
	lastFlushedAt time.Time
	flushInterval time.Duration
	Emit          func(Counters)
}

func New(flushInterval time.Duration, emit func(Counters)) *Monitor {
	return &Monitor{flushInterval: flushInterval, lastFlushedAt: time.Now(), Emit: emit}
}

func (m *Monitor) Add(c Counters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.RecordCount += c.RecordCount
	m.counters.DataSize += c.DataSize
	m.counters.InsertNum += c.InsertNum
	m.counters.UpdateNum += c.UpdateNum
	m.counters.DeleteNum += c.DeleteNum
}

// TryFlush emits and resets the counters if flushInterval has elapsed
// since the last flush, or immediately when force is true (used on
// shutdown to guarantee a final flush).
func (m *Monitor) TryFlush(force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && time.Since(m.lastFlushedAt) < m.flushInterval {
		return
	}
	if m.Emit != nil {
		m.Emit(m.counters)
	}
	m.counters = Counters{}
	m.lastFlushedAt = time.Now()
}

func (m *Monitor) Snapshot() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}
