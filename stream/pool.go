package stream

import (
	"fmt"

	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/transport"
)

// Allocate provisions the transfer pools for both directions. A
// failure rolls back every slot allocated so far before returning.
func (c *Controller) Allocate() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.allocateStream(&c.playback); err != nil {
		return err
	}
	if err := c.allocateStream(&c.capture); err != nil {
		c.freeStream(&c.playback)
		return err
	}
	return nil
}

// Release stops both streams and frees their pools. Idempotent, and
// safe on a partially-allocated controller.
func (c *Controller) Release() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.playback.started {
		c.stopLocked(&c.playback)
		c.dropCaptureRef()
	}
	if c.capture.started {
		c.stopLocked(&c.capture)
	}
	c.freeStream(&c.playback)
	c.freeStream(&c.capture)
}

func (c *Controller) allocateStream(s *audioStream) error {
	if s.allocated {
		return nil
	}

	s.slots = make([]*slot, NumSlots)
	for i := range s.slots {
		buf, err := c.allocBuffer(transferBytes)
		if err != nil {
			c.freeStream(s)
			return fmt.Errorf("%s slot %d buffer: %w", s.dir, i, err)
		}

		sl := &slot{index: i}
		sl.xfer = &transport.IsoTransfer{
			Endpoint:  s.endpoint,
			Direction: s.tdir,
			Buffer:    buf,
			Packets:   make([]transport.IsoPacket, PacketsPerTransfer),
		}
		sl.xfer.Complete = func(_ *transport.IsoTransfer, st transport.Status) {
			c.complete(s, sl, st)
		}
		s.slots[i] = sl
	}
	s.allocated = true
	return nil
}

func (c *Controller) freeStream(s *audioStream) {
	for i, sl := range s.slots {
		if sl == nil {
			continue
		}
		c.freeBuffer(sl.xfer.Buffer)
		s.slots[i] = nil
	}
	s.slots = nil
	s.allocated = false
}

// cancelAll forces synchronous cancellation of every outstanding
// submission on the stream and blocks until the hardware has confirmed
// each one. The stream must already be marked not-running so no
// completion resubmits behind the cancellation.
func (c *Controller) cancelAll(s *audioStream) {
	for _, sl := range s.slots {
		if sl != nil {
			c.tr.CancelIso(sl.xfer)
		}
	}
	s.inflight.Wait()

	for _, sl := range s.slots {
		if sl != nil {
			sl.state = SlotIdle
			sl.retries = 0
		}
	}
}

// submitSlot hands one prepared slot to the hardware queue.
func (c *Controller) submitSlot(s *audioStream, sl *slot) error {
	sl.state = SlotInFlight
	s.inflight.Add(1)
	if err := c.tr.SubmitIso(sl.xfer); err != nil {
		sl.state = SlotIdle
		s.inflight.Done()
		return err
	}
	return nil
}

// prepareSilentPlayback loads a slot with silence and nominal-rate
// packet sizes, for the initial submissions before real data flows.
func (c *Controller) prepareSilentPlayback(sl *slot) {
	x := sl.xfer
	for i := range x.Buffer {
		x.Buffer[i] = 0
	}
	offset := 0
	for i := range x.Packets {
		bytes := format.FramesToBytes(c.pacer.NextPacketFrames())
		x.Packets[i] = transport.IsoPacket{Offset: offset, Length: bytes}
		offset += bytes
	}
}

// prepareCapture sizes every packet for the maximum payload the device
// may send.
func (c *Controller) prepareCapture(sl *slot) {
	x := sl.xfer
	offset := 0
	for i := range x.Packets {
		x.Packets[i] = transport.IsoPacket{Offset: offset, Length: format.MaxPacketBytes}
		offset += format.MaxPacketBytes
	}
}

func (c *Controller) allocBuffer(size int) ([]byte, error) {
	if a, ok := c.tr.(transport.BufferAllocator); ok {
		return a.AllocBuffer(size)
	}
	return make([]byte, size), nil
}

func (c *Controller) freeBuffer(buf []byte) {
	if a, ok := c.tr.(transport.BufferAllocator); ok {
		a.FreeBuffer(buf)
	}
}
