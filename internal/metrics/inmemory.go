package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	SuperusersCreated        uint64
	SuperusersSkippedExists  uint64
	SuperusersSkippedLocked  uint64
	SuperusersFailed         uint64
	BootstrapDurationCount   uint64
	BootstrapDurationTotalNs int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	superusersCreated        uint64
	superusersSkippedExists  uint64
	superusersSkippedLocked  uint64
	superusersFailed         uint64
	bootstrapDurationCount   uint64
	bootstrapDurationTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		SuperusersCreated:        atomic.LoadUint64(&m.superusersCreated),
		SuperusersSkippedExists:  atomic.LoadUint64(&m.superusersSkippedExists),
		SuperusersSkippedLocked:  atomic.LoadUint64(&m.superusersSkippedLocked),
		SuperusersFailed:         atomic.LoadUint64(&m.superusersFailed),
		BootstrapDurationCount:   atomic.LoadUint64(&m.bootstrapDurationCount),
		BootstrapDurationTotalNs: atomic.LoadInt64(&m.bootstrapDurationTotalNs),
	}
}

// IncSuperuserCreated increments the created counter.
func (m *InMemoryRecorder) IncSuperuserCreated() {
	atomic.AddUint64(&m.superusersCreated, 1)
}

// IncSuperuserSkipped increments the skip counter for reason.
// Unknown reasons are dropped.
func (m *InMemoryRecorder) IncSuperuserSkipped(reason string) {
	switch reason {
	case SkipExists:
		atomic.AddUint64(&m.superusersSkippedExists, 1)
	case SkipLocked:
		atomic.AddUint64(&m.superusersSkippedLocked, 1)
	}
}

// IncSuperuserFailed increments the failure counter.
func (m *InMemoryRecorder) IncSuperuserFailed() {
	atomic.AddUint64(&m.superusersFailed, 1)
}

// ObserveBootstrapDuration records run duration.
func (m *InMemoryRecorder) ObserveBootstrapDuration(duration time.Duration) {
	atomic.AddUint64(&m.bootstrapDurationCount, 1)
	atomic.AddInt64(&m.bootstrapDurationTotalNs, duration.Nanoseconds())
}
