package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncSuperuserCreated is a no-op.
func (n *NoopRecorder) IncSuperuserCreated() {}

// IncSuperuserSkipped is a no-op.
func (n *NoopRecorder) IncSuperuserSkipped(reason string) {}

// IncSuperuserFailed is a no-op.
func (n *NoopRecorder) IncSuperuserFailed() {}

// ObserveBootstrapDuration is a no-op.
func (n *NoopRecorder) ObserveBootstrapDuration(duration time.Duration) {}
