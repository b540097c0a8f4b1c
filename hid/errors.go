package hid

import "errors"

// Sentinel errors for control-channel operations. Callers classify
// with errors.Is.
var (
	// ErrTimeout is returned when the device does not answer a
	// command within the response window. Device state is assumed
	// unchanged.
	ErrTimeout = errors.New("control response timeout")

	// ErrDisconnected is returned once the device has been removed.
	ErrDisconnected = errors.New("device disconnected")

	// ErrInvalidRouting is returned for an unknown channel pair or
	// routing mode.
	ErrInvalidRouting = errors.New("invalid routing pair or mode")

	// ErrShortResponse is returned when a command response does not
	// carry the expected payload.
	ErrShortResponse = errors.New("response too short")
)
