package stream

import "errors"

// Sentinel errors for stream operations. Callers classify with
// errors.Is.
var (
	// ErrBusy is returned when a configuration change is attempted
	// while a stream is active. No state is mutated.
	ErrBusy = errors.New("stream is active")

	// ErrDisconnected is returned once the device has been removed;
	// every operation fails with it from that point on.
	ErrDisconnected = errors.New("device disconnected")

	// ErrNotAllocated is returned when a stream is used before its
	// transfer pool has been allocated.
	ErrNotAllocated = errors.New("transfer pool not allocated")

	// ErrNotBound is returned when an operation needs an application
	// buffer and none is bound.
	ErrNotBound = errors.New("no buffer bound")

	// ErrNilBuffer is returned by Bind for a nil buffer descriptor.
	ErrNilBuffer = errors.New("buffer is nil")

	// ErrBufferTooSmall is returned when the ring buffer cannot hold
	// even one maximum-size packet.
	ErrBufferTooSmall = errors.New("buffer smaller than one packet")

	// ErrInvalidPeriod is returned when the period length is not in
	// (0, buffer frames].
	ErrInvalidPeriod = errors.New("invalid period size")
)
