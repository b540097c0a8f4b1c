package pacing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvgeele/sl3/format"
)

func TestPacer48kIsConstant(t *testing.T) {
	p := NewPacer(format.Rate48000)
	for i := 0; i < 100; i++ {
		require.Equal(t, 6, p.NextPacketFrames())
	}
}

// Over one full second of microframes the 44.1 kHz pacer must emit
// exactly 44100 frames: 8000*5 base frames plus 4100 extras.
func TestPacer44kExactLongRunRate(t *testing.T) {
	p := NewPacer(format.Rate44100)

	sum := 0
	for i := 0; i < microframes; i++ {
		frames := p.NextPacketFrames()
		require.True(t, frames == 5 || frames == 6, "packet %d: got %d frames", i, frames)
		sum += frames
	}
	assert.Equal(t, 44100, sum)

	// The pattern repeats: a second window must land on the same total.
	sum = 0
	for i := 0; i < microframes; i++ {
		sum += p.NextPacketFrames()
	}
	assert.Equal(t, 44100, sum)
}

// The accumulator invariant 0 <= acc < 8000 holds after every call.
func TestPacerAccumulatorBounds(t *testing.T) {
	p := NewPacer(format.Rate44100)
	for i := 0; i < 20000; i++ {
		p.NextPacketFrames()
		require.GreaterOrEqual(t, p.acc, 0)
		require.Less(t, p.acc, microframes)
	}
}

func TestPacerReset(t *testing.T) {
	p := NewPacer(format.Rate44100)
	for i := 0; i < 3; i++ {
		p.NextPacketFrames()
	}
	require.NotZero(t, p.acc)

	p.Reset()
	assert.Zero(t, p.acc)
	assert.Equal(t, format.Rate44100, p.Rate())
}

func TestPacerSetRateClearsAccumulator(t *testing.T) {
	p := NewPacer(format.Rate44100)
	p.NextPacketFrames()
	require.NotZero(t, p.acc)

	p.SetRate(format.Rate48000)
	assert.Zero(t, p.acc)
	assert.Equal(t, 6, p.NextPacketFrames())
	assert.Zero(t, p.acc, "48 kHz never touches the accumulator")
}
