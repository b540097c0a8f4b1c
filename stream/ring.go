package stream

import (
	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/transport"
)

// fillPlayback loads one playback slot from the ring buffer. Called
// under the playback stream lock, once per completion.
//
// Packet sizes come from the feedback tracker while capture is running
// and has unconsumed frames, otherwise from the nominal-rate pacer.
// With no buffer bound the slot is filled with silence but pacing still
// advances, keeping the device-side clock running. Returns whether one
// or more period boundaries were crossed.
func (c *Controller) fillPlayback(sl *slot) bool {
	s := &c.playback
	x := sl.xfer
	useFeedback := c.capture.running.Load()

	offset := 0
	for i := range x.Packets {
		frames, ok := 0, false
		if useFeedback {
			frames, ok = c.feedback.ConsumeForPacket(len(x.Packets) - i)
		}
		if !ok {
			frames = c.pacer.NextPacketFrames()
		}

		bytes := format.FramesToBytes(frames)
		x.Packets[i] = transport.IsoPacket{Offset: offset, Length: bytes}

		seg := x.Buffer[offset : offset+bytes]
		if s.buf != nil {
			readRing(s.buf, s.hwPtr, seg)
			s.hwPtr += uint64(frames)
			s.periodDone += frames
		} else {
			for j := range seg {
				seg[j] = 0
			}
		}
		offset += bytes
	}

	return consumePeriods(s)
}

// drainCapture copies one completed capture slot into the ring buffer.
// Called under the capture stream lock, once per completion. The device
// may return less than requested per packet; lengths are truncated to
// whole frames. Returns the period-boundary flag and the cycle's total
// frame count, which feeds the implicit feedback tracker.
func (c *Controller) drainCapture(sl *slot) (bool, int) {
	s := &c.capture
	x := sl.xfer

	total := 0
	for i := range x.Packets {
		p := x.Packets[i]
		frames := format.BytesToFrames(p.ActualLength)
		total += frames

		if s.buf == nil || frames == 0 {
			continue
		}
		bytes := format.FramesToBytes(frames)
		writeRing(s.buf, s.hwPtr, x.Buffer[p.Offset:p.Offset+bytes])
		s.hwPtr += uint64(frames)
		s.periodDone += frames
	}

	return consumePeriods(s), total
}

// consumePeriods folds the period accumulator down and reports whether
// at least one boundary was crossed.
func consumePeriods(s *audioStream) bool {
	if s.buf == nil {
		return false
	}
	elapsed := false
	for s.periodDone >= s.buf.PeriodFrames {
		s.periodDone -= s.buf.PeriodFrames
		elapsed = true
	}
	return elapsed
}

// readRing copies len(dst) bytes out of the ring at the given frame
// position, splitting the copy at the wraparound boundary.
func readRing(b *Buffer, pos uint64, dst []byte) {
	off := format.FramesToBytes(int(pos % uint64(b.Frames())))
	if off+len(dst) <= len(b.Data) {
		copy(dst, b.Data[off:])
		return
	}
	n := len(b.Data) - off
	copy(dst[:n], b.Data[off:])
	copy(dst[n:], b.Data[:len(dst)-n])
}

// writeRing copies src into the ring at the given frame position,
// splitting the copy at the wraparound boundary.
func writeRing(b *Buffer, pos uint64, src []byte) {
	off := format.FramesToBytes(int(pos % uint64(b.Frames())))
	if off+len(src) <= len(b.Data) {
		copy(b.Data[off:], src)
		return
	}
	n := len(b.Data) - off
	copy(b.Data[off:], src[:n])
	copy(b.Data, src[n:])
}
