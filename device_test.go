package sl3

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvgeele/sl3/hid"
	"github.com/nvgeele/sl3/transport"
)

// answeringLoopback echoes an acknowledgement for every control
// command, like the hardware does.
func answeringLoopback() *transport.Loopback {
	tp := transport.NewLoopback()
	tp.WriteFunc = func(_ uint8, report []byte) {
		tp.DeliverInterrupt(EPControlIn, hid.EncodeReport(report[0], []byte{0, 0, 0}))
	}
	return tp
}

func openTestDevice(t *testing.T, opts *Options) (*Device, *transport.Loopback) {
	t.Helper()
	tp := answeringLoopback()
	dev, err := New(tp, opts)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev, tp
}

func TestNewRunsInitHandshake(t *testing.T) {
	_, tp := openTestDevice(t, nil)

	writes := tp.Writes()
	require.Len(t, writes, 4)
	assert.Equal(t, byte(hid.CmdInit), writes[0][0])
	assert.Equal(t, byte(hid.CmdStatus), writes[1][0])
	assert.Equal(t, byte(hid.CmdSampleRate), writes[2][0])
	// Default rate 48000, big-endian.
	assert.Equal(t, []byte{0xBB, 0x80}, writes[2][5:7])
	assert.Equal(t, byte(hid.CmdQuerySwitches), writes[3][0])
}

func TestNewRejectsBadRate(t *testing.T) {
	opts := NewOptions()
	opts.SampleRate = 22050
	_, err := New(answeringLoopback(), opts)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestSetSampleRate(t *testing.T) {
	dev, tp := openTestDevice(t, nil)
	handshake := len(tp.Writes())

	require.NoError(t, dev.SetSampleRate(44100))
	assert.Equal(t, 44100, dev.SampleRate())

	writes := tp.Writes()
	require.Len(t, writes, handshake+1)
	assert.Equal(t, byte(hid.CmdSampleRate), writes[handshake][0])
	assert.Equal(t, []byte{0xAC, 0x44}, writes[handshake][5:7])

	// Same rate again is a no-op, nothing hits the wire.
	require.NoError(t, dev.SetSampleRate(44100))
	assert.Len(t, tp.Writes(), handshake+1)
}

func TestSetSampleRateWhileStreaming(t *testing.T) {
	dev, tp := openTestDevice(t, nil)
	require.NoError(t, dev.Start(Capture))
	before := len(tp.Writes())

	assert.ErrorIs(t, dev.SetSampleRate(44100), ErrBusy)
	assert.Len(t, tp.Writes(), before)
	assert.Equal(t, 48000, dev.SampleRate())

	require.NoError(t, dev.Stop(Capture))
	assert.NoError(t, dev.SetSampleRate(44100))
}

func TestSetRoutingUpdatesCache(t *testing.T) {
	dev, _ := openTestDevice(t, nil)

	require.NoError(t, dev.SetRouting(PairDeckB, RouteUSB))
	assert.Equal(t, [3]RouteMode{RouteAnalog, RouteUSB, RouteAnalog}, dev.Routing())

	assert.ErrorIs(t, dev.SetRouting(Pair(0x22), RouteUSB), ErrInvalidRouting)
}

func TestStatusSnapshot(t *testing.T) {
	dev, tp := openTestDevice(t, nil)
	require.NoError(t, dev.Start(Playback))

	tp.DeliverInterrupt(EPControlIn, hid.EncodeReport(hid.NotifyOverload, []byte{0, 0, 1, 0, 0, 0}))

	st := dev.Status()
	assert.Equal(t, 48000, st.SampleRate)
	assert.True(t, st.PlaybackRunning)
	assert.True(t, st.CaptureRunning)
	assert.Equal(t, [6]byte{0, 0, 1, 0, 0, 0}, st.Overloads)
}

func TestDisconnectPropagates(t *testing.T) {
	var disconnects atomic.Int32
	opts := NewOptions()
	opts.OnDisconnected = func() { disconnects.Add(1) }
	dev, tp := openTestDevice(t, opts)

	// Device loss surfaces on the control endpoint.
	tp.DeliverInterruptStatus(EPControlIn, nil, transport.StatusNoDevice)

	assert.Equal(t, int32(1), disconnects.Load())
	assert.ErrorIs(t, dev.Start(Capture), ErrDisconnected)
	assert.ErrorIs(t, dev.SetSampleRate(44100), hid.ErrDisconnected)
}
