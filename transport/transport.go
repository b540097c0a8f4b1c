package transport

import "time"

// Direction of an endpoint, relative to the host.
type Direction uint8

const (
	// DirOut transfers data host-to-device.
	DirOut Direction = iota
	// DirIn transfers data device-to-host.
	DirIn
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	if d == DirOut {
		return "out"
	}
	return "in"
}

// Status classifies the outcome of a completed transfer. The engine's
// error policy is keyed entirely off these values.
type Status uint8

const (
	// StatusCompleted means the transfer finished normally.
	StatusCompleted Status = iota
	// StatusCancelled means the transfer was cancelled by the host.
	// Intentional teardown, never an error.
	StatusCancelled
	// StatusNoDevice means the device is gone. Terminal for the
	// whole device.
	StatusNoDevice
	// StatusOverflow means the device returned more data than the
	// host expected. Transient.
	StatusOverflow
	// StatusStall means the endpoint halted. Transient after a halt
	// clear.
	StatusStall
	// StatusError covers any other transfer-level fault.
	StatusError
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusNoDevice:
		return "no device"
	case StatusOverflow:
		return "overflow"
	case StatusStall:
		return "stall"
	default:
		return "error"
	}
}

// IsoPacket describes one packet within an isochronous transfer.
// Offset and Length are set by the submitter; ActualLength is filled in
// by the transport on completion of an IN transfer and may be smaller
// than Length.
type IsoPacket struct {
	Offset       int
	Length       int
	ActualLength int
}

// CompleteFunc is invoked exactly once per submission when the transfer
// leaves the hardware queue, on the transport's completion context.
type CompleteFunc func(t *IsoTransfer, status Status)

// IsoTransfer is one reusable isochronous submission unit. The buffer
// and packet descriptors are owned by the hardware queue between
// SubmitIso and the completion callback; they must not be touched while
// the transfer is in flight.
type IsoTransfer struct {
	Endpoint  uint8
	Direction Direction
	Buffer    []byte
	Packets   []IsoPacket
	Complete  CompleteFunc

	// priv is for the transport implementation.
	priv any
}

// InterruptHandler receives interrupt-in reports. A StatusCompleted
// call carries the report bytes; any other status carries nil data.
// The transport keeps the receive path alive across transient faults,
// so the handler only ever sees completed reports and terminal states.
type InterruptHandler func(data []byte, status Status)

// Transport is the hardware seam between the engine and the USB stack.
type Transport interface {
	// SubmitIso queues an isochronous transfer. The transfer's
	// Complete callback fires exactly once per successful submission.
	SubmitIso(t *IsoTransfer) error

	// CancelIso requests cancellation of an in-flight transfer. The
	// transfer's completion (with StatusCancelled) still fires;
	// callers wait for it before reusing the buffer.
	CancelIso(t *IsoTransfer)

	// WriteInterrupt writes one report to an interrupt-out endpoint,
	// blocking up to timeout.
	WriteInterrupt(endpoint uint8, data []byte, timeout time.Duration) error

	// StartInterruptIn begins a persistent receive on an
	// interrupt-in endpoint, delivering each report to fn.
	StartInterruptIn(endpoint uint8, size int, fn InterruptHandler) error

	// ClearHalt clears a halted endpoint.
	ClearHalt(endpoint uint8) error

	// Close cancels everything outstanding and releases the device.
	Close() error
}

// BufferAllocator is implemented by transports that provide
// DMA-visible transfer memory. The engine uses it when available and
// falls back to ordinary allocation otherwise.
type BufferAllocator interface {
	AllocBuffer(size int) ([]byte, error)
	FreeBuffer(buf []byte)
}
