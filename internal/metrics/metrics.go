// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Skip reasons reported by IncSuperuserSkipped.
const (
	SkipExists = "exists"
	SkipLocked = "locked"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	IncSuperuserCreated()
	IncSuperuserSkipped(reason string) // reason: "exists" or "locked"
	IncSuperuserFailed()
	ObserveBootstrapDuration(duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
