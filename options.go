package sl3

import (
	"github.com/sirupsen/logrus"

	"github.com/nvgeele/sl3/hid"
	"github.com/nvgeele/sl3/stream"
)

// Options configures a Device. All callbacks are optional and run on
// the transport's event goroutine; they must not block or call back
// into blocking Device operations.
type Options struct {
	// SampleRate is the nominal rate the device is initialized to,
	// 44100 or 48000.
	SampleRate int

	// OnPeriodElapsed fires when a stream crosses a period boundary
	// of its bound buffer.
	OnPeriodElapsed func(stream.Direction)

	// OnStreamAborted fires when the error policy force-stops a
	// stream; the stream must be re-prepared before restarting.
	OnStreamAborted func(stream.Direction)

	// OnOverload fires with the per-channel input overload flags.
	OnOverload func([6]byte)

	// OnSwitches fires when a front-panel switch changes position.
	OnSwitches func([3]byte)

	// OnDisconnected fires once when the device is removed.
	OnDisconnected func()

	// Logger, when set, replaces the standard logrus logger.
	Logger *logrus.Logger
}

// NewOptions returns the default options: 48 kHz, no callbacks.
func NewOptions() *Options {
	return &Options{
		SampleRate: 48000,
	}
}

// Re-exported streaming types, so most applications only import sl3.
type (
	// Direction selects playback or capture.
	Direction = stream.Direction
	// Buffer is the application's circular PCM buffer.
	Buffer = stream.Buffer
	// Counters is a snapshot of the diagnostic counters.
	Counters = stream.CounterSnapshot
	// Pair identifies a stereo channel pair.
	Pair = hid.Pair
	// RouteMode selects a pair's signal source.
	RouteMode = hid.RouteMode
)

// Re-exported constants.
const (
	Playback = stream.Playback
	Capture  = stream.Capture

	PairDeckA = hid.PairDeckA
	PairDeckB = hid.PairDeckB
	PairDeckC = hid.PairDeckC

	RouteAnalog = hid.RouteAnalog
	RouteUSB    = hid.RouteUSB
)
