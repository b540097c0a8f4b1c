package hid

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/transport"
)

// Exchange timing.
const (
	// WriteTimeout bounds the interrupt-out write of one command.
	WriteTimeout = time.Second

	// ResponseTimeout bounds the wait for the device's answer.
	ResponseTimeout = 500 * time.Millisecond

	// StabilizationDelay is how long the device needs to settle
	// after a sample-rate change before streaming may resume.
	StabilizationDelay = 100 * time.Millisecond
)

// Config wires a Channel to its endpoints and observers. The observer
// callbacks run on the transport's event goroutine and must not block
// or call back into the channel.
type Config struct {
	OutEndpoint byte
	InEndpoint  byte

	// OnOverload fires when the device reports per-channel input
	// overload flags.
	OnOverload func([6]byte)

	// OnSwitches fires when a front-panel switch changes position.
	OnSwitches func([3]byte)

	// OnDisconnected fires once when the control endpoint reports
	// the device is gone.
	OnDisconnected func()
}

// Channel is the command/response and notification side of the device.
// One exchange is in flight at a time, serialized on mu; the response
// travels through a single-slot channel from the receive path to the
// waiting sender.
type Channel struct {
	tr  transport.Transport
	cfg Config
	log *logrus.Entry

	mu     sync.Mutex
	respCh chan []byte

	statusMu sync.Mutex
	overload [6]byte
	switches [3]byte
	ports    [4]byte

	disconnected atomic.Bool
	discOnce     sync.Once
}

// NewChannel starts listening on the interrupt-in endpoint and returns
// the ready channel. No command is sent yet; call Init for the
// power-on handshake.
func NewChannel(tr transport.Transport, cfg Config, log *logrus.Entry) (*Channel, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Channel{
		tr:     tr,
		cfg:    cfg,
		log:    log,
		respCh: make(chan []byte, 1),
	}
	if err := tr.StartInterruptIn(cfg.InEndpoint, ReportSize, c.onReport); err != nil {
		return nil, fmt.Errorf("hid: start interrupt in: %w", err)
	}
	return c, nil
}

// onReport is the interrupt-in handler. It demultiplexes notifications
// from command responses by the leading byte.
func (c *Channel) onReport(data []byte, st transport.Status) {
	if st == transport.StatusNoDevice {
		c.markDisconnected()
		return
	}
	if st != transport.StatusCompleted || len(data) < 1 {
		return
	}

	switch data[0] {
	case NotifyOverload:
		if len(data) < payloadOffset+6 {
			return
		}
		var v [6]byte
		copy(v[:], data[payloadOffset:])
		c.statusMu.Lock()
		c.overload = v
		c.statusMu.Unlock()
		if fn := c.cfg.OnOverload; fn != nil {
			fn(v)
		}

	case NotifySwitches:
		if len(data) < payloadOffset+3 {
			return
		}
		var v [3]byte
		copy(v[:], data[payloadOffset:])
		c.statusMu.Lock()
		c.switches = v
		c.statusMu.Unlock()
		if fn := c.cfg.OnSwitches; fn != nil {
			fn(v)
		}

	case NotifyUSBPort:
		if len(data) < payloadOffset+4 {
			return
		}
		c.statusMu.Lock()
		copy(c.ports[:], data[payloadOffset:])
		c.statusMu.Unlock()

	default:
		// Command response. The slot holds at most one; a response
		// nobody is waiting for is dropped.
		resp := make([]byte, len(data))
		copy(resp, data)
		select {
		case c.respCh <- resp:
		default:
		}
	}
}

// exchange sends one command frame and, when asked, waits for the
// device's answer.
func (c *Channel) exchange(cmd byte, payload []byte, wantResponse bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected.Load() {
		return nil, ErrDisconnected
	}

	if wantResponse {
		// Discard a stale response from an exchange that timed out.
		select {
		case <-c.respCh:
		default:
		}
	}

	if err := c.tr.WriteInterrupt(c.cfg.OutEndpoint, EncodeReport(cmd, payload), WriteTimeout); err != nil {
		return nil, fmt.Errorf("hid: send command 0x%02x: %w", cmd, err)
	}
	if !wantResponse {
		return nil, nil
	}

	select {
	case resp := <-c.respCh:
		return resp, nil
	case <-time.After(ResponseTimeout):
		c.log.WithField("command", fmt.Sprintf("0x%02x", cmd)).
			Warn("control response timeout")
		return nil, fmt.Errorf("hid: command 0x%02x: %w", cmd, ErrTimeout)
	}
}

// Init runs the power-on handshake: an identity query, a status query,
// the current sample rate and the initial switch positions. The device
// tolerates missing answers here, so each failed step is logged and
// skipped rather than aborting the handshake. Init sleeps for the
// stabilization delay before returning.
func (c *Channel) Init(rate int) error {
	if _, err := c.exchange(CmdInit, []byte{0x00}, true); err != nil {
		if c.disconnected.Load() {
			return err
		}
		c.log.WithError(err).Warn("init query failed, continuing")
	}
	if _, err := c.exchange(CmdStatus, []byte{0x01}, true); err != nil {
		c.log.WithError(err).Warn("status query failed, continuing")
	}
	if err := c.SetSampleRate(rate); err != nil {
		c.log.WithError(err).Warn("initial rate set failed, continuing")
	}
	if _, err := c.QuerySwitches(); err != nil {
		c.log.WithError(err).Warn("switch query failed, continuing")
	}

	time.Sleep(StabilizationDelay)
	c.log.Info("control channel initialized")
	return nil
}

// SetSampleRate sends the rate-change command and waits for the
// device's acknowledgement. The rate goes on the wire as a big-endian
// 16-bit integer. The caller owns the stop-reconfigure-restart
// sequencing around this call.
func (c *Channel) SetSampleRate(rate int) error {
	if err := format.ValidateRate(rate); err != nil {
		return err
	}
	payload := []byte{byte(rate >> 8), byte(rate & 0xFF)}
	_, err := c.exchange(CmdSampleRate, payload, true)
	return err
}

// SetRouting switches one channel pair between its analog input and
// the USB playback stream. The device sends no acknowledgement for
// this command.
func (c *Channel) SetRouting(pair Pair, mode RouteMode) error {
	if pair != PairDeckA && pair != PairDeckB && pair != PairDeckC {
		return fmt.Errorf("pair 0x%02x: %w", byte(pair), ErrInvalidRouting)
	}
	if mode != RouteAnalog && mode != RouteUSB {
		return fmt.Errorf("mode 0x%02x: %w", byte(mode), ErrInvalidRouting)
	}
	_, err := c.exchange(CmdRouting, []byte{byte(pair), routingSubType, byte(mode)}, false)
	return err
}

// QuerySwitches asks the device for the current switch position of all
// three pairs and refreshes the cached vector.
func (c *Channel) QuerySwitches() ([3]byte, error) {
	resp, err := c.exchange(CmdQuerySwitches, nil, true)
	if err != nil {
		return [3]byte{}, err
	}
	if len(resp) < payloadOffset+3 {
		return [3]byte{}, ErrShortResponse
	}
	var v [3]byte
	copy(v[:], resp[payloadOffset:])
	c.statusMu.Lock()
	c.switches = v
	c.statusMu.Unlock()
	return v, nil
}

// Overloads returns the last reported per-channel overload flags.
func (c *Channel) Overloads() [6]byte {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.overload
}

// Switches returns the last known per-pair switch positions.
func (c *Channel) Switches() [3]byte {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.switches
}

// PortStatus returns the last reported USB port status bytes.
func (c *Channel) PortStatus() [4]byte {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.ports
}

// MarkDisconnected latches device loss seen elsewhere, failing every
// further exchange.
func (c *Channel) MarkDisconnected() { c.markDisconnected() }

func (c *Channel) markDisconnected() {
	if c.disconnected.Swap(true) {
		return
	}
	c.discOnce.Do(func() {
		c.log.Error("control channel lost device")
		if fn := c.cfg.OnDisconnected; fn != nil {
			fn()
		}
	})
}
