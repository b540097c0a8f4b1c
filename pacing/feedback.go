package pacing

import (
	"sync"

	"github.com/nvgeele/sl3/format"
)

// FeedbackTracker carries the implicit feedback measurement from the
// capture completion path to the playback fill path.
//
// Capture records the number of frames the device actually delivered in
// its last cycle. Playback then drains that total, one packet at a time,
// before falling back to the nominal-rate pacer. The two paths run on
// independent completion contexts, so the tracker has its own lock.
type FeedbackTracker struct {
	mu     sync.Mutex
	frames int
}

// NewFeedbackTracker returns an empty tracker.
func NewFeedbackTracker() *FeedbackTracker {
	return &FeedbackTracker{}
}

// Record stores the frame total of the most recent capture cycle,
// replacing whatever playback has not yet consumed.
func (t *FeedbackTracker) Record(totalFrames int) {
	t.mu.Lock()
	t.frames = totalFrames
	t.mu.Unlock()
}

// Reset discards any unconsumed feedback. Called when capture starts or
// stops so a stale measurement never paces a fresh stream.
func (t *FeedbackTracker) Reset() {
	t.Record(0)
}

// Pending returns the number of unconsumed feedback frames.
func (t *FeedbackTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// ConsumeForPacket withdraws the frame count for one playback packet,
// given how many packets remain in the current cycle (including this
// one). The stored total is spread by ceiling division so the cycle sum
// matches the recorded total exactly, capped at the most frames a packet
// can carry.
//
// The second result is false once the tracker is exhausted; the caller
// then uses the Pacer for the rest of the cycle.
func (t *FeedbackTracker) ConsumeForPacket(remainingPackets int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frames <= 0 || remainingPackets <= 0 {
		return 0, false
	}

	frames := (t.frames + remainingPackets - 1) / remainingPackets
	if frames > format.MaxPacketFrames {
		frames = format.MaxPacketFrames
	}
	t.frames -= frames
	if t.frames < 0 {
		t.frames = 0
	}
	return frames, true
}
