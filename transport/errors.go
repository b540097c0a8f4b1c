package transport

import "errors"

// Sentinel errors for transport operations. Callers classify with
// errors.Is.
var (
	// ErrClosed is returned for any operation on a closed transport.
	ErrClosed = errors.New("transport is closed")

	// ErrNoDevice is returned when the device has disappeared from
	// the bus.
	ErrNoDevice = errors.New("device is not present")

	// ErrWriteTimeout is returned when an interrupt write does not
	// complete within its timeout.
	ErrWriteTimeout = errors.New("interrupt write timed out")

	// ErrAlreadyInFlight is returned when a transfer is submitted
	// while its previous submission is still outstanding.
	ErrAlreadyInFlight = errors.New("transfer already in flight")
)
