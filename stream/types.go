package stream

import (
	"sync"
	"sync/atomic"

	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/transport"
)

// Direction selects one of the two audio streams.
type Direction uint8

const (
	// Playback streams host-to-device.
	Playback Direction = iota
	// Capture streams device-to-host.
	Capture
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	if d == Playback {
		return "playback"
	}
	return "capture"
}

// Pool and transfer geometry.
const (
	// NumSlots is the number of reusable transfer slots per direction.
	NumSlots = 16

	// PacketsPerTransfer is the isochronous packet count per slot.
	PacketsPerTransfer = 8

	// MaxSlotRetries is the consecutive-error threshold after which a
	// stream is forcibly stopped.
	MaxSlotRetries = 3

	// transferBytes sizes each slot buffer for the largest possible
	// per-cycle payload.
	transferBytes = PacketsPerTransfer * format.MaxPacketBytes
)

// Buffer describes the application's circular audio buffer. Data is a
// linear byte region holding whole sample-frames; the engine reads and
// writes it at frame-indexed offsets with wraparound and makes no other
// assumption about how it is backed. PeriodFrames is the interval, in
// frames, at which period-elapsed notifications fire.
type Buffer struct {
	Data         []byte
	PeriodFrames int
}

// Frames returns the buffer capacity in sample-frames.
func (b *Buffer) Frames() int {
	return len(b.Data) / format.BytesPerFrame
}

// audioStream is the per-direction state. The running flag is read on
// both completion contexts; hwPtr, periodDone and buf are guarded by mu,
// which is safe to take from a completion context and is held only for
// the copy-and-advance span. started and the slot slice belong to the
// controller's operation lock.
type audioStream struct {
	dir      Direction
	endpoint uint8
	tdir     transport.Direction

	running atomic.Bool
	started bool

	mu         sync.Mutex
	hwPtr      uint64 // frames since stream start, monotonic
	periodDone int    // frames since the last period boundary
	buf        *Buffer

	slots     []*slot
	allocated bool
	inflight  sync.WaitGroup
}
