// Package sl3 is a user-space driver engine for the Rane SL3 USB audio
// interface: 6 channels of 24-bit audio in each direction over
// isochronous transfers, with the sample clock recovered from the
// device's own capture timing.
//
// A Device ties together the streaming engine and the HID-style
// control channel. Applications bind a circular PCM buffer per
// direction, start the streams, and move audio at period-elapsed
// notifications; sample rate and per-pair routing are configured
// through the control channel, which also delivers asynchronous
// overload and switch-position status.
//
//	opts := sl3.NewOptions()
//	dev, err := sl3.Open(opts)
//	if err != nil { ... }
//	defer dev.Close()
//
//	dev.Bind(sl3.Playback, &sl3.Buffer{Data: pcm, PeriodFrames: 480})
//	dev.Start(sl3.Playback)
//
// Everything hardware-facing goes through the transport.Transport
// interface, so the engine runs unchanged against the in-memory
// loopback transport in tests.
package sl3
