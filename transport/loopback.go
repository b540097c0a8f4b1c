package transport

import (
	"fmt"
	"sync"
	"time"
)

// Loopback is an in-memory Transport. Nothing completes on its own:
// the caller raises completions with CompleteNext and delivers
// interrupt-in reports with DeliverInterrupt, which makes completion
// ordering fully deterministic in tests.
//
// Optional hooks inject failures (SubmitFunc, AllocFunc) or model a
// device that answers control writes (WriteFunc).
type Loopback struct {
	mu       sync.Mutex
	closed   bool
	inflight []*IsoTransfer
	handlers map[uint8]InterruptHandler
	writes   [][]byte
	cleared  []uint8

	// SubmitFunc, when set, is consulted before an isochronous
	// submission is accepted.
	SubmitFunc func(t *IsoTransfer) error

	// WriteFunc, when set, observes every interrupt-out report. It
	// runs with the loopback unlocked, so it may call
	// DeliverInterrupt to answer synchronously.
	WriteFunc func(endpoint uint8, data []byte)

	// AllocFunc, when set, is consulted by AllocBuffer.
	AllocFunc func(size int) ([]byte, error)
}

// NewLoopback returns an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[uint8]InterruptHandler)}
}

// SubmitIso implements Transport.
func (l *Loopback) SubmitIso(t *IsoTransfer) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	for _, f := range l.inflight {
		if f == t {
			l.mu.Unlock()
			return ErrAlreadyInFlight
		}
	}
	hook := l.SubmitFunc
	if hook == nil {
		l.inflight = append(l.inflight, t)
	}
	l.mu.Unlock()

	if hook != nil {
		if err := hook(t); err != nil {
			return err
		}
		l.mu.Lock()
		l.inflight = append(l.inflight, t)
		l.mu.Unlock()
	}
	return nil
}

// CancelIso implements Transport. The cancelled transfer's completion
// fires synchronously with StatusCancelled.
func (l *Loopback) CancelIso(t *IsoTransfer) {
	if l.remove(t) {
		t.Complete(t, StatusCancelled)
	}
}

// WriteInterrupt implements Transport.
func (l *Loopback) WriteInterrupt(endpoint uint8, data []byte, timeout time.Duration) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	report := make([]byte, len(data))
	copy(report, data)
	l.writes = append(l.writes, report)
	hook := l.WriteFunc
	l.mu.Unlock()

	if hook != nil {
		hook(endpoint, report)
	}
	return nil
}

// StartInterruptIn implements Transport.
func (l *Loopback) StartInterruptIn(endpoint uint8, size int, fn InterruptHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.handlers[endpoint]; ok {
		return fmt.Errorf("endpoint 0x%02x: %w", endpoint, ErrAlreadyInFlight)
	}
	l.handlers[endpoint] = fn
	return nil
}

// ClearHalt implements Transport, recording the cleared endpoint.
func (l *Loopback) ClearHalt(endpoint uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.cleared = append(l.cleared, endpoint)
	return nil
}

// Close implements Transport. Outstanding transfers complete with
// StatusCancelled.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	pending := l.inflight
	l.inflight = nil
	l.mu.Unlock()

	for _, t := range pending {
		t.Complete(t, StatusCancelled)
	}
	return nil
}

// AllocBuffer implements BufferAllocator.
func (l *Loopback) AllocBuffer(size int) ([]byte, error) {
	if l.AllocFunc != nil {
		return l.AllocFunc(size)
	}
	return make([]byte, size), nil
}

// FreeBuffer implements BufferAllocator.
func (l *Loopback) FreeBuffer(buf []byte) {}

// Inflight returns the in-flight transfers for one endpoint in
// submission order.
func (l *Loopback) Inflight(endpoint uint8) []*IsoTransfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*IsoTransfer
	for _, t := range l.inflight {
		if t.Endpoint == endpoint {
			out = append(out, t)
		}
	}
	return out
}

// CompleteNext pops the oldest in-flight transfer on an endpoint and
// raises its completion with the given status. For StatusCompleted IN
// transfers, actualLengths (one entry per packet, padded with full
// packets when short) fills the packet descriptors first. It reports
// whether a transfer was in flight.
func (l *Loopback) CompleteNext(endpoint uint8, status Status, actualLengths ...int) bool {
	l.mu.Lock()
	var xfer *IsoTransfer
	for i, t := range l.inflight {
		if t.Endpoint == endpoint {
			xfer = t
			l.inflight = append(l.inflight[:i], l.inflight[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	if xfer == nil {
		return false
	}
	if status == StatusCompleted && xfer.Direction == DirIn {
		for i := range xfer.Packets {
			if i < len(actualLengths) {
				xfer.Packets[i].ActualLength = actualLengths[i]
			} else {
				xfer.Packets[i].ActualLength = xfer.Packets[i].Length
			}
		}
	}
	xfer.Complete(xfer, status)
	return true
}

// DeliverInterrupt hands one report to the interrupt-in handler
// registered on endpoint, if any.
func (l *Loopback) DeliverInterrupt(endpoint uint8, data []byte) {
	l.DeliverInterruptStatus(endpoint, data, StatusCompleted)
}

// DeliverInterruptStatus raises an interrupt-in condition with an
// explicit status, such as a device loss.
func (l *Loopback) DeliverInterruptStatus(endpoint uint8, data []byte, status Status) {
	l.mu.Lock()
	fn := l.handlers[endpoint]
	l.mu.Unlock()
	if fn != nil {
		fn(data, status)
	}
}

// Writes returns every interrupt-out report seen so far.
func (l *Loopback) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.writes))
	copy(out, l.writes)
	return out
}

// ClearedHalts returns the endpoints ClearHalt was called for.
func (l *Loopback) ClearedHalts() []uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint8, len(l.cleared))
	copy(out, l.cleared)
	return out
}

func (l *Loopback) remove(t *IsoTransfer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, f := range l.inflight {
		if f == t {
			l.inflight = append(l.inflight[:i], l.inflight[i+1:]...)
			return true
		}
	}
	return false
}
