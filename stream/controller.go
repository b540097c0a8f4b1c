package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/pacing"
	"github.com/nvgeele/sl3/transport"
)

// Config carries the fixed wiring for a Controller. Endpoints are the
// device's isochronous endpoint addresses. The callbacks are optional
// and are invoked from completion context; they must not call back into
// blocking Controller operations.
type Config struct {
	PlaybackEndpoint byte
	CaptureEndpoint  byte
	SampleRate       int

	// OnPeriodElapsed fires after each crossed period boundary on a
	// bound stream.
	OnPeriodElapsed func(Direction)

	// OnStreamAborted fires once when a stream is force-stopped after
	// exhausting its retry budget.
	OnStreamAborted func(Direction)

	// OnDisconnected fires once when the device reports it has gone
	// away.
	OnDisconnected func()
}

// Controller drives both isochronous streams over a Transport. One
// Controller per device.
//
// Blocking operations (Start, Stop, Prepare, Bind, ConfigureRate)
// serialize on opMu and may sleep waiting for in-flight transfers.
// Completion handlers run on the transport's event goroutine and take
// only the short per-stream lock.
type Controller struct {
	tr  transport.Transport
	cfg Config
	log *logrus.Entry

	pacer    *pacing.Pacer
	feedback *pacing.FeedbackTracker
	counters Counters

	opMu sync.Mutex

	// capRefs counts users of the capture stream: an explicit Bind
	// plus the implicit reference a running playback stream holds for
	// clock recovery. Guarded by opMu.
	capRefs int

	playback audioStream
	capture  audioStream

	disconnected atomic.Bool
	discOnce     sync.Once
}

// NewController wires a controller to a transport. The streams start
// unallocated; call Allocate before Start.
func NewController(tr transport.Transport, cfg Config, log *logrus.Entry) (*Controller, error) {
	if err := format.ValidateRate(cfg.SampleRate); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Controller{
		tr:       tr,
		cfg:      cfg,
		log:      log,
		pacer:    pacing.NewPacer(cfg.SampleRate),
		feedback: pacing.NewFeedbackTracker(),
	}
	c.playback = audioStream{dir: Playback, endpoint: cfg.PlaybackEndpoint, tdir: transport.DirOut}
	c.capture = audioStream{dir: Capture, endpoint: cfg.CaptureEndpoint, tdir: transport.DirIn}
	return c, nil
}

func (c *Controller) stream(dir Direction) *audioStream {
	if dir == Playback {
		return &c.playback
	}
	return &c.capture
}

// Bind attaches a ring buffer to a stream. The buffer length must be a
// whole number of frames and a multiple of the period size. Rebinding
// while the stream runs is rejected with ErrBusy.
func (c *Controller) Bind(dir Direction, buf *Buffer) error {
	if buf == nil {
		return ErrNilBuffer
	}
	if err := format.ValidateBuffer(buf.Data); err != nil {
		return err
	}
	frames := buf.Frames()
	if frames < format.MaxPacketFrames {
		return ErrBufferTooSmall
	}
	if buf.PeriodFrames <= 0 || frames%buf.PeriodFrames != 0 {
		return ErrInvalidPeriod
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.stream(dir)
	if s.running.Load() {
		return ErrBusy
	}
	s.mu.Lock()
	rebind := s.buf != nil
	s.buf = buf
	s.hwPtr = 0
	s.periodDone = 0
	s.mu.Unlock()

	// A rebind replaces the buffer; the stream's capture reference is
	// already held.
	if dir == Capture && !rebind {
		c.capRefs++
	}
	return nil
}

// Unbind detaches a stream's ring buffer, stopping the stream first if
// it is running. Unbinding capture drops its explicit reference; if
// playback still runs the capture stream itself keeps running for
// clock recovery, buffer-less.
func (c *Controller) Unbind(dir Direction) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.stream(dir)
	if s.buf == nil {
		return ErrNotBound
	}

	if dir == Capture {
		c.capRefs--
		if s.started && c.capRefs <= 0 {
			c.stopLocked(s)
		}
	} else if s.started {
		c.stopLocked(s)
		c.dropCaptureRef()
	}

	s.mu.Lock()
	s.buf = nil
	s.hwPtr = 0
	s.periodDone = 0
	s.mu.Unlock()
	return nil
}

// Start begins streaming on a direction. Starting playback implicitly
// starts capture first when it is not already running, since the
// capture stream is the clock source. If any slot submission fails the
// whole operation unwinds, including an implicitly started capture
// stream, and the controller is left fully stopped.
func (c *Controller) Start(dir Direction) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.disconnected.Load() {
		return ErrDisconnected
	}
	s := c.stream(dir)
	if !s.allocated {
		return ErrNotAllocated
	}
	if s.started {
		return ErrBusy
	}

	if dir == Playback {
		implicit := false
		if !c.capture.started {
			if !c.capture.allocated {
				return ErrNotAllocated
			}
			if err := c.startLocked(&c.capture); err != nil {
				return err
			}
			implicit = true
		}
		if err := c.startLocked(&c.playback); err != nil {
			if implicit {
				c.stopLocked(&c.capture)
			}
			return err
		}
		c.capRefs++
		return nil
	}

	return c.startLocked(&c.capture)
}

// startLocked primes and submits every slot of one stream. Holds opMu.
func (c *Controller) startLocked(s *audioStream) error {
	s.mu.Lock()
	s.hwPtr = 0
	s.periodDone = 0
	s.mu.Unlock()

	if s.dir == Playback {
		c.pacer.Reset()
		c.feedback.Reset()
	}

	for _, sl := range s.slots {
		if s.dir == Playback {
			c.prepareSilentPlayback(sl)
		} else {
			c.prepareCapture(sl)
		}
		if err := c.submitSlot(s, sl); err != nil {
			c.cancelAll(s)
			return fmt.Errorf("stream: start %s: %w", s.dir, err)
		}
	}

	s.running.Store(true)
	s.started = true
	c.log.WithField("direction", s.dir.String()).Info("stream started")
	return nil
}

// Stop halts streaming on a direction. Stopping playback releases its
// implicit capture reference, which stops capture too when nothing
// else holds it. Stop waits for all in-flight transfers to complete.
func (c *Controller) Stop(dir Direction) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.stream(dir)
	if !s.started {
		return nil
	}
	c.stopLocked(s)
	if dir == Playback {
		c.dropCaptureRef()
	}
	return nil
}

// dropCaptureRef releases playback's capture reference and cascades
// the stop when the stream has no other user. Holds opMu.
func (c *Controller) dropCaptureRef() {
	c.capRefs--
	if c.capture.started && c.capRefs <= 0 && c.capture.buf == nil {
		c.stopLocked(&c.capture)
	}
}

// stopLocked cancels all slots, waits them out and resets the stream.
// Safe against an already-aborted stream: cancelling idle slots is a
// no-op at the transport. Holds opMu.
func (c *Controller) stopLocked(s *audioStream) {
	s.running.Store(false)
	c.cancelAll(s)
	s.started = false
	s.mu.Lock()
	s.periodDone = 0
	s.mu.Unlock()
	c.log.WithField("direction", s.dir.String()).Info("stream stopped")
}

// Prepare resets a stream to a clean pre-start state. It reaps an
// aborted stream, rewinds the hardware pointer and clears the retry
// bookkeeping, matching the usual stop-prepare-start recovery cycle
// after an xrun.
func (c *Controller) Prepare(dir Direction) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.stream(dir)
	if !s.allocated {
		return ErrNotAllocated
	}
	if s.started {
		c.stopLocked(s)
		if dir == Playback {
			c.dropCaptureRef()
		}
	}
	s.mu.Lock()
	s.hwPtr = 0
	s.periodDone = 0
	s.mu.Unlock()
	for _, sl := range s.slots {
		sl.state = SlotIdle
		sl.retries = 0
	}
	return nil
}

// Position reports the stream's hardware pointer as a frame offset
// into the bound ring buffer. The pointer only advances while a buffer
// is bound. Fails with ErrDisconnected once the device is gone.
func (c *Controller) Position(dir Direction) (uint64, error) {
	if c.disconnected.Load() {
		return 0, ErrDisconnected
	}
	s := c.stream(dir)
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.hwPtr
	if s.buf != nil {
		pos %= uint64(s.buf.Frames())
	}
	return pos, nil
}

// Running reports whether the direction is actively streaming.
func (c *Controller) Running(dir Direction) bool {
	return c.stream(dir).running.Load()
}

// ConfigureRate changes the nominal sample rate. Rejected while either
// stream is started, including an aborted stream that has not been
// reaped by Stop or Prepare yet.
func (c *Controller) ConfigureRate(rate int) error {
	return c.Reconfigure(rate, nil)
}

// Reconfigure changes the nominal sample rate with both streams
// quiesced. fn, when non-nil, runs after the busy check and before the
// pacing state is reset, still under the operation lock, so no stream
// can start while it talks to the device; it may sleep. A fn error
// leaves the rate and pacing state untouched.
func (c *Controller) Reconfigure(rate int, fn func() error) error {
	if err := format.ValidateRate(rate); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.playback.started || c.capture.started {
		return ErrBusy
	}
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	c.cfg.SampleRate = rate
	c.pacer.SetRate(rate)
	c.feedback.Reset()
	return nil
}

// FeedbackFrames reports the capture frames currently pending for
// playback pacing.
func (c *Controller) FeedbackFrames() int { return c.feedback.Pending() }

// Counters returns a snapshot of the controller's event counters.
func (c *Controller) Counters() CounterSnapshot { return c.counters.Snapshot() }

// complete is the single completion handler for both directions. It
// runs on the transport's event goroutine and must not block.
func (c *Controller) complete(s *audioStream, sl *slot, st transport.Status) {
	switch st {
	case transport.StatusCancelled:
		c.finishSlot(s, sl)

	case transport.StatusNoDevice:
		c.markDisconnected()
		c.finishSlot(s, sl)

	case transport.StatusOverflow:
		c.counters.TransientFaults.Add(1)
		c.log.WithFields(logrus.Fields{
			"direction": s.dir.String(),
			"slot":      sl.index,
		}).Warn("isochronous overflow, resubmitting")
		c.resubmit(s, sl)

	case transport.StatusStall:
		c.counters.TransientFaults.Add(1)
		if err := c.tr.ClearHalt(s.endpoint); err != nil {
			c.log.WithError(err).WithField("direction", s.dir.String()).
				Warn("clear halt failed")
		}
		c.resubmit(s, sl)

	case transport.StatusError:
		sl.retries++
		if sl.retries >= MaxSlotRetries {
			c.abort(s, sl)
			return
		}
		sl.state = SlotRetrying
		c.log.WithFields(logrus.Fields{
			"direction": s.dir.String(),
			"slot":      sl.index,
			"retries":   sl.retries,
		}).Warn("transfer error, retrying")
		c.resubmit(s, sl)

	default: // StatusCompleted
		sl.retries = 0
		c.completed(s, sl)
	}
}

// completed handles a successfully finished cycle: move audio through
// the ring, account for the implicit feedback and resubmit.
func (c *Controller) completed(s *audioStream, sl *slot) {
	if c.disconnected.Load() || !s.running.Load() {
		c.finishSlot(s, sl)
		return
	}

	var elapsed bool
	if s.dir == Playback {
		c.counters.PlaybackCompleted.Add(1)
		s.mu.Lock()
		elapsed = c.fillPlayback(sl)
		s.mu.Unlock()
	} else {
		c.counters.CaptureCompleted.Add(1)
		var total int
		s.mu.Lock()
		elapsed, total = c.drainCapture(sl)
		s.mu.Unlock()
		c.feedback.Record(total)
		c.prepareCapture(sl)
	}

	if elapsed {
		if fn := c.cfg.OnPeriodElapsed; fn != nil {
			fn(s.dir)
		}
	}

	c.resubmit(s, sl)
}

// resubmit requeues a slot, converting a failed resubmission into one
// more strike so a dead pipe cannot retry forever.
func (c *Controller) resubmit(s *audioStream, sl *slot) {
	if c.disconnected.Load() || !s.running.Load() {
		c.finishSlot(s, sl)
		return
	}
	sl.state = SlotInFlight
	if err := c.tr.SubmitIso(sl.xfer); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"direction": s.dir.String(),
			"slot":      sl.index,
		}).Error("resubmit failed")
		sl.retries++
		if sl.retries >= MaxSlotRetries {
			c.abort(s, sl)
			return
		}
		c.finishSlot(s, sl)
	}
}

// finishSlot retires a slot without resubmission, releasing the
// in-flight reference taken at submit time.
func (c *Controller) finishSlot(s *audioStream, sl *slot) {
	sl.state = SlotIdle
	s.inflight.Done()
}

// abort force-stops a stream from completion context after the retry
// budget is spent. It cannot run the blocking stop path here, so it
// flips the running flag, counts the xrun exactly once and leaves the
// full teardown to the next Stop or Prepare call.
func (c *Controller) abort(s *audioStream, sl *slot) {
	sl.state = SlotAborted
	if s.running.Swap(false) {
		if s.dir == Playback {
			c.counters.PlaybackUnderruns.Add(1)
		} else {
			c.counters.CaptureOverruns.Add(1)
		}
		c.log.WithField("direction", s.dir.String()).
			Error("retry budget exhausted, stream aborted")
		if fn := c.cfg.OnStreamAborted; fn != nil {
			fn(s.dir)
		}
	}
	s.inflight.Done()
}

// markDisconnected latches device loss and fires the callback once.
func (c *Controller) markDisconnected() {
	if c.disconnected.Swap(true) {
		return
	}
	c.playback.running.Store(false)
	c.capture.running.Store(false)
	c.discOnce.Do(func() {
		c.log.Error("device disconnected")
		if fn := c.cfg.OnDisconnected; fn != nil {
			fn()
		}
	})
}

// MarkDisconnected lets the owning device propagate a disconnect seen
// on another channel, such as the control endpoint.
func (c *Controller) MarkDisconnected() { c.markDisconnected() }
