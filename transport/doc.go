// Package transport abstracts the USB I/O the streaming engine and the
// control channel are built on: asynchronous isochronous transfers with
// per-packet descriptors, interrupt writes with a timeout, a persistent
// interrupt-in receive path, and endpoint halt clearing.
//
// Two implementations are provided. Libusb drives real hardware through
// libusb-1.0 and raises completions from its event-handling goroutine.
// Loopback is an in-memory transport whose completions are raised
// explicitly by the caller; the engine and control-channel tests are
// written against it.
//
// Completion callbacks run on the transport's completion context and
// must never block.
package transport
