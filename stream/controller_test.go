package stream

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/transport"
)

const (
	testEPOut = 0x06
	testEPIn  = 0x82
)

func newTestController(t *testing.T, cfg Config) (*Controller, *transport.Loopback) {
	t.Helper()
	if cfg.PlaybackEndpoint == 0 {
		cfg.PlaybackEndpoint = testEPOut
	}
	if cfg.CaptureEndpoint == 0 {
		cfg.CaptureEndpoint = testEPIn
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = format.Rate48000
	}
	tp := transport.NewLoopback()
	c, err := NewController(tp, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Allocate())
	t.Cleanup(c.Release)
	return c, tp
}

func TestNewControllerRejectsBadRate(t *testing.T) {
	_, err := NewController(transport.NewLoopback(), Config{SampleRate: 96000}, nil)
	assert.ErrorIs(t, err, format.ErrInvalidRate)
}

func TestStartCaptureSubmitsAllSlots(t *testing.T) {
	c, tp := newTestController(t, Config{})

	require.NoError(t, c.Start(Capture))
	assert.True(t, c.Running(Capture))
	assert.False(t, c.Running(Playback))

	inflight := tp.Inflight(testEPIn)
	require.Len(t, inflight, NumSlots)
	for _, x := range inflight {
		require.Len(t, x.Packets, PacketsPerTransfer)
		for _, p := range x.Packets {
			assert.Equal(t, format.MaxPacketBytes, p.Length)
		}
	}
}

func TestStartPlaybackImplicitlyStartsCapture(t *testing.T) {
	c, tp := newTestController(t, Config{})

	require.NoError(t, c.Start(Playback))
	assert.True(t, c.Running(Playback))
	assert.True(t, c.Running(Capture))
	assert.Len(t, tp.Inflight(testEPOut), NumSlots)
	assert.Len(t, tp.Inflight(testEPIn), NumSlots)

	// At 48 kHz every primed packet carries exactly 6 frames.
	for _, p := range tp.Inflight(testEPOut)[0].Packets {
		assert.Equal(t, format.FramesToBytes(6), p.Length)
	}
}

func TestStartPlaybackUnwindsOnSubmitFailure(t *testing.T) {
	c, tp := newTestController(t, Config{})
	tp.SubmitFunc = func(x *transport.IsoTransfer) error {
		if x.Endpoint == testEPOut {
			return errors.New("no bandwidth")
		}
		return nil
	}

	err := c.Start(Playback)
	require.Error(t, err)

	// The implicitly started capture stream is torn down too.
	assert.False(t, c.Running(Playback))
	assert.False(t, c.Running(Capture))
	assert.Empty(t, tp.Inflight(testEPOut))
	assert.Empty(t, tp.Inflight(testEPIn))

	// The controller recovers once submissions work again.
	tp.SubmitFunc = nil
	require.NoError(t, c.Start(Playback))
	assert.Len(t, tp.Inflight(testEPOut), NumSlots)
}

func TestStartTwiceReturnsBusy(t *testing.T) {
	c, _ := newTestController(t, Config{})
	require.NoError(t, c.Start(Capture))
	assert.ErrorIs(t, c.Start(Capture), ErrBusy)
}

func TestStartWithoutAllocate(t *testing.T) {
	c, err := NewController(transport.NewLoopback(), Config{
		PlaybackEndpoint: testEPOut,
		CaptureEndpoint:  testEPIn,
		SampleRate:       format.Rate48000,
	}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Start(Capture), ErrNotAllocated)
}

func TestPlaybackFillsFromBoundBuffer(t *testing.T) {
	var periods atomic.Int32
	c, tp := newTestController(t, Config{
		OnPeriodElapsed: func(d Direction) {
			if d == Playback {
				periods.Add(1)
			}
		},
	})

	buf := patternBuffer(96, 48)
	require.NoError(t, c.Bind(Playback, buf))
	require.NoError(t, c.Start(Playback))

	require.True(t, tp.CompleteNext(testEPOut, transport.StatusCompleted))

	// The refilled slot is back at the tail of the queue carrying the
	// first 48 frames of the ring.
	inflight := tp.Inflight(testEPOut)
	require.Len(t, inflight, NumSlots)
	refilled := inflight[NumSlots-1]
	assert.Equal(t, buf.Data[:format.FramesToBytes(48)], refilled.Buffer[:format.FramesToBytes(48)])

	pos, err := c.Position(Playback)
	require.NoError(t, err)
	assert.Equal(t, uint64(48), pos)
	assert.Equal(t, int32(1), periods.Load())
}

func TestPlaybackSilentWhenUnbound(t *testing.T) {
	var periods atomic.Int32
	c, tp := newTestController(t, Config{
		OnPeriodElapsed: func(Direction) { periods.Add(1) },
	})

	require.NoError(t, c.Start(Playback))
	require.True(t, tp.CompleteNext(testEPOut, transport.StatusCompleted))

	refilled := tp.Inflight(testEPOut)[NumSlots-1]
	for _, b := range refilled.Buffer[:format.FramesToBytes(48)] {
		require.Zero(t, b)
	}
	pos, err := c.Position(Playback)
	require.NoError(t, err)
	assert.Zero(t, pos)
	assert.Zero(t, periods.Load())
}

func TestCaptureFeedbackPacesPlayback(t *testing.T) {
	c, tp := newTestController(t, Config{})
	require.NoError(t, c.Start(Playback))

	// A full capture cycle: 8 packets of 7 frames.
	require.True(t, tp.CompleteNext(testEPIn, transport.StatusCompleted))
	assert.Equal(t, 56, c.FeedbackFrames())

	// The next playback fill distributes those 56 frames over its 8
	// packets instead of using the nominal 6.
	require.True(t, tp.CompleteNext(testEPOut, transport.StatusCompleted))
	refilled := tp.Inflight(testEPOut)[NumSlots-1]
	for _, p := range refilled.Packets {
		assert.Equal(t, format.FramesToBytes(7), p.Length)
	}
	assert.Zero(t, c.FeedbackFrames())
}

func TestCaptureDrainsToBoundBuffer(t *testing.T) {
	var periods atomic.Int32
	c, tp := newTestController(t, Config{
		OnPeriodElapsed: func(d Direction) {
			if d == Capture {
				periods.Add(1)
			}
		},
	})

	buf := &Buffer{Data: make([]byte, format.FramesToBytes(112)), PeriodFrames: 56}
	require.NoError(t, c.Bind(Capture, buf))
	require.NoError(t, c.Start(Capture))

	xfer := tp.Inflight(testEPIn)[0]
	for i := range xfer.Buffer {
		xfer.Buffer[i] = byte(i % 249)
	}
	require.True(t, tp.CompleteNext(testEPIn, transport.StatusCompleted))

	want := format.FramesToBytes(56)
	assert.Equal(t, xfer.Buffer[:want], buf.Data[:want])
	pos, err := c.Position(Capture)
	require.NoError(t, err)
	assert.Equal(t, uint64(56), pos)
	assert.Equal(t, int32(1), periods.Load())
}

func TestCaptureShortPackets(t *testing.T) {
	c, tp := newTestController(t, Config{})
	buf := &Buffer{Data: make([]byte, format.FramesToBytes(112)), PeriodFrames: 112}
	require.NoError(t, c.Bind(Capture, buf))
	require.NoError(t, c.Start(Capture))

	// Two packets of 6 frames, the rest empty.
	short := format.FramesToBytes(6)
	require.True(t, tp.CompleteNext(testEPIn, transport.StatusCompleted,
		short, short, 0, 0, 0, 0, 0, 0))

	pos, err := c.Position(Capture)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), pos)
	assert.Equal(t, 12, c.FeedbackFrames())
}

func TestOverflowResubmits(t *testing.T) {
	c, tp := newTestController(t, Config{})
	require.NoError(t, c.Start(Capture))

	require.True(t, tp.CompleteNext(testEPIn, transport.StatusOverflow))
	assert.Len(t, tp.Inflight(testEPIn), NumSlots)
	assert.Equal(t, uint32(1), c.Counters().TransientFaults)
	assert.True(t, c.Running(Capture))
}

func TestStallClearsHaltAndResubmits(t *testing.T) {
	c, tp := newTestController(t, Config{})
	require.NoError(t, c.Start(Capture))

	require.True(t, tp.CompleteNext(testEPIn, transport.StatusStall))
	assert.Len(t, tp.Inflight(testEPIn), NumSlots)
	assert.Equal(t, []uint8{testEPIn}, tp.ClearedHalts())
}

func TestErrorRetriesThenAbortsExactlyOnce(t *testing.T) {
	var aborted atomic.Int32
	c, tp := newTestController(t, Config{
		OnStreamAborted: func(d Direction) {
			require.Equal(t, Playback, d)
			aborted.Add(1)
		},
	})
	require.NoError(t, c.Start(Playback))

	// Keep failing playback completions until every slot has either
	// exhausted its retries or been retired by the stopped stream.
	for tp.CompleteNext(testEPOut, transport.StatusError) {
	}

	assert.False(t, c.Running(Playback))
	assert.Equal(t, int32(1), aborted.Load())
	assert.Equal(t, uint32(1), c.Counters().PlaybackUnderruns)

	// Capture is still alive; the aborted stream blocks rate changes
	// until it is reaped.
	assert.True(t, c.Running(Capture))
	assert.ErrorIs(t, c.ConfigureRate(format.Rate44100), ErrBusy)

	require.NoError(t, c.Stop(Playback))
	assert.False(t, c.Running(Capture))
	assert.NoError(t, c.ConfigureRate(format.Rate44100))
}

func TestPrepareReapsAbortedStream(t *testing.T) {
	c, tp := newTestController(t, Config{})
	require.NoError(t, c.Start(Playback))
	for tp.CompleteNext(testEPOut, transport.StatusError) {
	}
	require.False(t, c.Running(Playback))

	require.NoError(t, c.Prepare(Playback))
	pos, err := c.Position(Playback)
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, c.Start(Playback))
	assert.Len(t, tp.Inflight(testEPOut), NumSlots)
	assert.Len(t, tp.Inflight(testEPIn), NumSlots)
}

func TestNoDeviceDisconnects(t *testing.T) {
	var disconnects atomic.Int32
	c, tp := newTestController(t, Config{
		OnDisconnected: func() { disconnects.Add(1) },
	})
	require.NoError(t, c.Start(Capture))

	for tp.CompleteNext(testEPIn, transport.StatusNoDevice) {
	}

	assert.Equal(t, int32(1), disconnects.Load())
	assert.False(t, c.Running(Capture))
	assert.ErrorIs(t, c.Start(Playback), ErrDisconnected)
}

func TestStopPlaybackStopsUnusedCapture(t *testing.T) {
	c, tp := newTestController(t, Config{})
	require.NoError(t, c.Start(Playback))
	require.True(t, c.Running(Capture))

	require.NoError(t, c.Stop(Playback))
	assert.False(t, c.Running(Playback))
	assert.False(t, c.Running(Capture))
	assert.Empty(t, tp.Inflight(testEPOut))
	assert.Empty(t, tp.Inflight(testEPIn))
}

func TestStopPlaybackKeepsBoundCapture(t *testing.T) {
	c, tp := newTestController(t, Config{})
	buf := &Buffer{Data: make([]byte, format.FramesToBytes(112)), PeriodFrames: 56}
	require.NoError(t, c.Bind(Capture, buf))
	require.NoError(t, c.Start(Playback))

	require.NoError(t, c.Stop(Playback))
	assert.True(t, c.Running(Capture))
	assert.Len(t, tp.Inflight(testEPIn), NumSlots)

	// Dropping the last capture user stops it.
	require.NoError(t, c.Unbind(Capture))
	assert.False(t, c.Running(Capture))
	assert.Empty(t, tp.Inflight(testEPIn))
}

func TestStopIdleStreamIsNoop(t *testing.T) {
	c, _ := newTestController(t, Config{})
	assert.NoError(t, c.Stop(Playback))
	assert.NoError(t, c.Stop(Capture))
}

func TestConfigureRateWhileActive(t *testing.T) {
	c, _ := newTestController(t, Config{})
	require.NoError(t, c.Start(Capture))
	assert.ErrorIs(t, c.ConfigureRate(format.Rate44100), ErrBusy)

	require.NoError(t, c.Stop(Capture))
	assert.NoError(t, c.ConfigureRate(format.Rate44100))
	assert.ErrorIs(t, c.ConfigureRate(88200), format.ErrInvalidRate)
}

func TestBindValidation(t *testing.T) {
	c, _ := newTestController(t, Config{})

	assert.ErrorIs(t, c.Bind(Playback, nil), ErrNilBuffer)
	assert.ErrorIs(t, c.Bind(Playback, &Buffer{
		Data: make([]byte, 100), PeriodFrames: 2,
	}), format.ErrUnalignedBuffer)
	assert.ErrorIs(t, c.Bind(Playback, &Buffer{
		Data: make([]byte, format.FramesToBytes(4)), PeriodFrames: 2,
	}), ErrBufferTooSmall)
	assert.ErrorIs(t, c.Bind(Playback, &Buffer{
		Data: make([]byte, format.FramesToBytes(96)), PeriodFrames: 50,
	}), ErrInvalidPeriod)
	assert.ErrorIs(t, c.Unbind(Playback), ErrNotBound)
}

func TestBindWhileRunningReturnsBusy(t *testing.T) {
	c, _ := newTestController(t, Config{})
	require.NoError(t, c.Start(Capture))
	buf := &Buffer{Data: make([]byte, format.FramesToBytes(112)), PeriodFrames: 56}
	assert.ErrorIs(t, c.Bind(Capture, buf), ErrBusy)
}

func TestAllocateRollsBackOnFailure(t *testing.T) {
	tp := transport.NewLoopback()
	calls := 0
	tp.AllocFunc = func(size int) ([]byte, error) {
		calls++
		if calls > NumSlots+2 {
			return nil, errors.New("out of DMA memory")
		}
		return make([]byte, size), nil
	}
	c, err := NewController(tp, Config{
		PlaybackEndpoint: testEPOut,
		CaptureEndpoint:  testEPIn,
		SampleRate:       format.Rate48000,
	}, nil)
	require.NoError(t, err)

	require.Error(t, c.Allocate())
	assert.ErrorIs(t, c.Start(Playback), ErrNotAllocated)
	assert.ErrorIs(t, c.Start(Capture), ErrNotAllocated)
}

func TestRebindCaptureHoldsSingleReference(t *testing.T) {
	c, tp := newTestController(t, Config{})
	buf1 := &Buffer{Data: make([]byte, format.FramesToBytes(112)), PeriodFrames: 56}
	buf2 := &Buffer{Data: make([]byte, format.FramesToBytes(224)), PeriodFrames: 56}

	// Rebinding replaces the buffer without stacking a second capture
	// reference.
	require.NoError(t, c.Bind(Capture, buf1))
	require.NoError(t, c.Bind(Capture, buf2))
	require.NoError(t, c.Unbind(Capture))

	require.NoError(t, c.Start(Playback))
	require.NoError(t, c.Stop(Playback))

	assert.False(t, c.Running(Capture))
	assert.Empty(t, tp.Inflight(testEPIn))
}

func TestPositionWrapsAtBufferSize(t *testing.T) {
	c, tp := newTestController(t, Config{})
	buf := patternBuffer(64, 32)
	require.NoError(t, c.Bind(Playback, buf))
	require.NoError(t, c.Start(Playback))

	// Two 48-frame cycles advance the pointer past the 64-frame ring.
	require.True(t, tp.CompleteNext(testEPOut, transport.StatusCompleted))
	require.True(t, tp.CompleteNext(testEPOut, transport.StatusCompleted))

	pos, err := c.Position(Playback)
	require.NoError(t, err)
	assert.Equal(t, uint64(96%64), pos)
}

func TestPositionAfterDisconnect(t *testing.T) {
	c, tp := newTestController(t, Config{})
	require.NoError(t, c.Start(Capture))
	for tp.CompleteNext(testEPIn, transport.StatusNoDevice) {
	}

	_, err := c.Position(Capture)
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = c.Position(Playback)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestReconfigureRunsUnderGate(t *testing.T) {
	c, _ := newTestController(t, Config{})

	require.NoError(t, c.Start(Capture))
	called := false
	err := c.Reconfigure(format.Rate44100, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, called, "callback must not run while a stream is up")

	require.NoError(t, c.Stop(Capture))
	err = c.Reconfigure(format.Rate44100, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestReconfigureCallbackFailureKeepsRate(t *testing.T) {
	c, tp := newTestController(t, Config{})

	err := c.Reconfigure(format.Rate44100, func() error {
		return errors.New("device said no")
	})
	require.Error(t, err)

	// Pacing still runs at the original 48 kHz: every primed playback
	// packet carries 6 frames.
	require.NoError(t, c.Start(Playback))
	for _, p := range tp.Inflight(testEPOut)[0].Packets {
		assert.Equal(t, format.FramesToBytes(6), p.Length)
	}
}

func TestReleaseWhileRunning(t *testing.T) {
	c, tp := newTestController(t, Config{})
	require.NoError(t, c.Start(Playback))

	c.Release()
	assert.False(t, c.Running(Playback))
	assert.False(t, c.Running(Capture))
	assert.Empty(t, tp.Inflight(testEPOut))
	assert.Empty(t, tp.Inflight(testEPIn))

	// Idempotent.
	c.Release()
}
