// Package hid implements the device's HID-style control channel:
// fixed 64-byte command reports on the interrupt-out endpoint, with
// responses and unsolicited notifications multiplexed on the
// interrupt-in endpoint.
//
// The receive path demultiplexes by leading command byte. Recognized
// notification codes update the channel's status vectors and signal
// the registered observers; anything else is treated as the response
// to the pending command. At most one command exchange is in flight at
// a time.
package hid
