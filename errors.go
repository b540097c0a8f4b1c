package sl3

import (
	"github.com/nvgeele/sl3/format"
	"github.com/nvgeele/sl3/hid"
	"github.com/nvgeele/sl3/stream"
)

// The sentinel errors a Device surfaces, re-exported from the
// packages that define them. Classify with errors.Is.
var (
	// ErrBusy: a configuration change was attempted while a stream
	// is active. Nothing was sent to the device.
	ErrBusy = stream.ErrBusy

	// ErrDisconnected: the device is gone; every operation fails.
	ErrDisconnected = stream.ErrDisconnected

	// ErrInvalidRate: the rate is not 44100 or 48000.
	ErrInvalidRate = format.ErrInvalidRate

	// ErrInvalidRouting: unknown channel pair or routing mode.
	ErrInvalidRouting = hid.ErrInvalidRouting

	// ErrTimeout: the device did not answer a control command.
	ErrTimeout = hid.ErrTimeout
)
