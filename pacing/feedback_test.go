package pacing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvgeele/sl3/format"
)

// 11 frames over 4 remaining packets must distribute as 3,3,3,2 by
// ceiling division, summing exactly to the recorded total.
func TestFeedbackCeilingDistribution(t *testing.T) {
	tr := NewFeedbackTracker()
	tr.Record(11)

	want := []int{3, 3, 3, 2}
	for i, w := range want {
		frames, ok := tr.ConsumeForPacket(4 - i)
		require.True(t, ok, "packet %d", i)
		assert.Equal(t, w, frames, "packet %d", i)
	}

	_, ok := tr.ConsumeForPacket(0)
	assert.False(t, ok, "tracker must be exhausted")
	assert.Zero(t, tr.Pending())
}

func TestFeedbackCapsAtMaxPacketFrames(t *testing.T) {
	tr := NewFeedbackTracker()
	tr.Record(100)

	frames, ok := tr.ConsumeForPacket(2)
	require.True(t, ok)
	assert.Equal(t, format.MaxPacketFrames, frames)
	assert.Equal(t, 100-format.MaxPacketFrames, tr.Pending())
}

func TestFeedbackExhaustionFallsBack(t *testing.T) {
	tr := NewFeedbackTracker()

	_, ok := tr.ConsumeForPacket(8)
	assert.False(t, ok, "empty tracker yields nothing")

	tr.Record(5)
	frames, ok := tr.ConsumeForPacket(8)
	require.True(t, ok)
	assert.Equal(t, 1, frames)

	tr.Reset()
	_, ok = tr.ConsumeForPacket(7)
	assert.False(t, ok, "reset discards unconsumed feedback")
}

func TestFeedbackRecordReplaces(t *testing.T) {
	tr := NewFeedbackTracker()
	tr.Record(40)
	tr.Record(44)
	assert.Equal(t, 44, tr.Pending())
}
