package sl3

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/hid"
	"github.com/nvgeele/sl3/stream"
	"github.com/nvgeele/sl3/transport"
)

// The SL3's fixed endpoint layout.
const (
	EPAudioOut   = 0x06 // isochronous, playback
	EPAudioIn    = 0x82 // isochronous, capture and implicit feedback
	EPControlOut = 0x01 // interrupt, commands
	EPControlIn  = 0x81 // interrupt, responses and notifications
)

// Device is an open SL3. It owns the streaming controller and the
// control channel and presents them as one surface.
type Device struct {
	tr   transport.Transport
	ctrl *stream.Controller
	ch   *hid.Channel
	log  *logrus.Entry

	mu      sync.Mutex
	rate    int
	routing [3]RouteMode

	discOnce sync.Once
	opts     *Options
}

// DeviceStatus is a point-in-time snapshot of the device state.
type DeviceStatus struct {
	SampleRate      int
	Routing         [3]RouteMode
	Overloads       [6]byte
	Switches        [3]byte
	PortStatus      [4]byte
	PlaybackRunning bool
	CaptureRunning  bool
	Counters        Counters
}

// New builds a Device on an already-open transport and runs the
// initialization handshake. Most callers use Open; New exists for
// alternative transports.
func New(tr transport.Transport, opts *Options) (*Device, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := format.ValidateRate(opts.SampleRate); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "sl3")

	d := &Device{
		tr:   tr,
		log:  log,
		rate: opts.SampleRate,
		opts: opts,
	}

	ch, err := hid.NewChannel(tr, hid.Config{
		OutEndpoint:    EPControlOut,
		InEndpoint:     EPControlIn,
		OnOverload:     opts.OnOverload,
		OnSwitches:     opts.OnSwitches,
		OnDisconnected: d.onDisconnected,
	}, logger.WithField("component", "hid"))
	if err != nil {
		return nil, err
	}
	d.ch = ch

	ctrl, err := stream.NewController(tr, stream.Config{
		PlaybackEndpoint: EPAudioOut,
		CaptureEndpoint:  EPAudioIn,
		SampleRate:       opts.SampleRate,
		OnPeriodElapsed:  opts.OnPeriodElapsed,
		OnStreamAborted:  opts.OnStreamAborted,
		OnDisconnected:   d.onDisconnected,
	}, logger.WithField("component", "stream"))
	if err != nil {
		return nil, err
	}
	d.ctrl = ctrl

	if err := ctrl.Allocate(); err != nil {
		return nil, fmt.Errorf("sl3: allocate transfer pools: %w", err)
	}
	if err := ch.Init(opts.SampleRate); err != nil {
		ctrl.Release()
		return nil, fmt.Errorf("sl3: init handshake: %w", err)
	}

	log.WithField("rate", opts.SampleRate).Info("device ready")
	return d, nil
}

// onDisconnected propagates device loss to both halves and tells the
// application once.
func (d *Device) onDisconnected() {
	d.ctrl.MarkDisconnected()
	d.ch.MarkDisconnected()
	d.discOnce.Do(func() {
		if fn := d.opts.OnDisconnected; fn != nil {
			fn()
		}
	})
}

// Close stops all streaming, frees the transfer pools and releases the
// device.
func (d *Device) Close() error {
	d.ctrl.Release()
	return d.tr.Close()
}

// SampleRate returns the current nominal rate.
func (d *Device) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

// SetSampleRate switches the device to a new nominal rate: it rejects
// the change while either stream is active, sends the rate command,
// waits out the device stabilization delay and resets the pacing
// state. A no-op when the rate is already current.
func (d *Device) SetSampleRate(rate int) error {
	if err := format.ValidateRate(rate); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if rate == d.rate {
		return nil
	}

	// The busy gate, the wire command and the stabilization delay all
	// run under the controller's operation lock, so no stream can
	// start mid-sequence.
	err := d.ctrl.Reconfigure(rate, func() error {
		if err := d.ch.SetSampleRate(rate); err != nil {
			return err
		}
		time.Sleep(hid.StabilizationDelay)
		return nil
	})
	if err != nil {
		return err
	}
	d.rate = rate
	d.log.WithField("rate", rate).Info("sample rate switched")
	return nil
}

// SetRouting switches one channel pair between its analog input and
// the USB playback stream.
func (d *Device) SetRouting(pair Pair, mode RouteMode) error {
	if err := d.ch.SetRouting(pair, mode); err != nil {
		return err
	}
	d.mu.Lock()
	switch pair {
	case PairDeckA:
		d.routing[0] = mode
	case PairDeckB:
		d.routing[1] = mode
	case PairDeckC:
		d.routing[2] = mode
	}
	d.mu.Unlock()
	return nil
}

// Routing returns the last routing mode set for each pair, in deck
// order A, B, C.
func (d *Device) Routing() [3]RouteMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.routing
}

// Bind attaches a circular PCM buffer to one direction.
func (d *Device) Bind(dir Direction, buf *Buffer) error { return d.ctrl.Bind(dir, buf) }

// Unbind detaches a direction's buffer, stopping it first if needed.
func (d *Device) Unbind(dir Direction) error { return d.ctrl.Unbind(dir) }

// Start begins streaming. Starting playback brings capture up too,
// since the capture stream carries the clock.
func (d *Device) Start(dir Direction) error { return d.ctrl.Start(dir) }

// Stop halts streaming and waits for all in-flight transfers.
func (d *Device) Stop(dir Direction) error { return d.ctrl.Stop(dir) }

// Prepare resets a direction to a clean pre-start state, reaping an
// aborted stream.
func (d *Device) Prepare(dir Direction) error { return d.ctrl.Prepare(dir) }

// Position returns the direction's hardware pointer as a frame offset
// into the bound buffer.
func (d *Device) Position(dir Direction) (uint64, error) { return d.ctrl.Position(dir) }

// Running reports whether the direction is actively streaming.
func (d *Device) Running(dir Direction) bool { return d.ctrl.Running(dir) }

// Counters returns the diagnostic counter snapshot.
func (d *Device) Counters() Counters { return d.ctrl.Counters() }

// Overloads returns the last reported per-channel overload flags.
func (d *Device) Overloads() [6]byte { return d.ch.Overloads() }

// Switches returns the last known per-pair switch positions.
func (d *Device) Switches() [3]byte { return d.ch.Switches() }

// QuerySwitches asks the device for fresh switch positions.
func (d *Device) QuerySwitches() ([3]byte, error) { return d.ch.QuerySwitches() }

// Status snapshots the whole device state for diagnostics.
func (d *Device) Status() DeviceStatus {
	d.mu.Lock()
	rate, routing := d.rate, d.routing
	d.mu.Unlock()
	return DeviceStatus{
		SampleRate:      rate,
		Routing:         routing,
		Overloads:       d.ch.Overloads(),
		Switches:        d.ch.Switches(),
		PortStatus:      d.ch.PortStatus(),
		PlaybackRunning: d.ctrl.Running(Playback),
		CaptureRunning:  d.ctrl.Running(Capture),
		Counters:        d.ctrl.Counters(),
	}
}
