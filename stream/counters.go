package stream

import "sync/atomic"

// Counters are the engine's diagnostic counters. All fields are
// updated from completion contexts with atomic operations; readers take
// a Snapshot.
type Counters struct {
	PlaybackCompleted atomic.Uint64
	CaptureCompleted  atomic.Uint64
	PlaybackUnderruns atomic.Uint32
	CaptureOverruns   atomic.Uint32
	TransientFaults   atomic.Uint32

	// Discontinuities is reserved for a detection path that does not
	// exist yet; it is reported but never incremented.
	Discontinuities atomic.Uint32
}

// CounterSnapshot is a point-in-time copy of the counters.
type CounterSnapshot struct {
	PlaybackCompleted uint64
	CaptureCompleted  uint64
	PlaybackUnderruns uint32
	CaptureOverruns   uint32
	TransientFaults   uint32
	Discontinuities   uint32
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		PlaybackCompleted: c.PlaybackCompleted.Load(),
		CaptureCompleted:  c.CaptureCompleted.Load(),
		PlaybackUnderruns: c.PlaybackUnderruns.Load(),
		CaptureOverruns:   c.CaptureOverruns.Load(),
		TransientFaults:   c.TransientFaults.Load(),
		Discontinuities:   c.Discontinuities.Load(),
	}
}
