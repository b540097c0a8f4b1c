package transport

/*
#cgo pkg-config: libusb-1.0
#include <libusb.h>
#include <stdlib.h>

void sl3TransferCallback(struct libusb_transfer *transfer);

typedef struct libusb_transfer libusb_transfer_struct;

static struct libusb_iso_packet_descriptor *
sl3_iso_desc(struct libusb_transfer *xfer, int i)
{
	return &xfer->iso_packet_desc[i];
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	pointer "github.com/mattn/go-pointer"
	"github.com/sirupsen/logrus"
)

// InterfaceSetting names one USB interface to claim and the alternate
// setting to select on it.
type InterfaceSetting struct {
	Number     int
	AltSetting int
}

// LibusbConfig identifies the device to open and the interfaces the
// driver owns.
type LibusbConfig struct {
	VendorID   uint16
	ProductID  uint16
	Interfaces []InterfaceSetting
}

// Libusb is the hardware Transport, implemented on libusb-1.0
// asynchronous I/O. One event-handling goroutine per open device runs
// all completion callbacks; they are never invoked concurrently.
type Libusb struct {
	cfg    LibusbConfig
	ctx    *C.libusb_context
	handle *C.libusb_device_handle

	mu     sync.Mutex
	closed bool
	intIn  map[uint8]*interruptIn

	eventsDone chan struct{}
	log        *logrus.Entry
}

// libusbIso is the per-IsoTransfer native state, kept in the
// transfer's priv slot across resubmissions.
type libusbIso struct {
	xfer *C.libusb_transfer_struct
	self unsafe.Pointer // go-pointer id, round-tripped through user_data
	t    *IsoTransfer
	l    *Libusb
}

// interruptIn is a persistent interrupt-in transfer.
type interruptIn struct {
	l        *Libusb
	endpoint uint8
	xfer     *C.libusb_transfer_struct
	buf      unsafe.Pointer
	size     int
	fn       InterruptHandler
	self     unsafe.Pointer
	stopped  bool
}

// OpenLibusb opens the device by vendor/product id, detaches kernel
// drivers, claims the configured interfaces and selects their alternate
// settings, then starts the event-handling goroutine.
func OpenLibusb(cfg LibusbConfig) (*Libusb, error) {
	l := &Libusb{
		cfg:        cfg,
		intIn:      make(map[uint8]*interruptIn),
		eventsDone: make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "transport",
			"vendor":    fmt.Sprintf("%04x", cfg.VendorID),
			"product":   fmt.Sprintf("%04x", cfg.ProductID),
		}),
	}

	if rc := C.libusb_init(&l.ctx); rc != 0 {
		return nil, libusbError("libusb_init", rc)
	}

	l.handle = C.libusb_open_device_with_vid_pid(l.ctx,
		C.uint16_t(cfg.VendorID), C.uint16_t(cfg.ProductID))
	if l.handle == nil {
		C.libusb_exit(l.ctx)
		return nil, fmt.Errorf("open %04x:%04x: %w",
			cfg.VendorID, cfg.ProductID, ErrNoDevice)
	}

	C.libusb_set_auto_detach_kernel_driver(l.handle, 1)

	claimed := 0
	for _, ifc := range cfg.Interfaces {
		rc := C.libusb_claim_interface(l.handle, C.int(ifc.Number))
		if rc != 0 {
			l.releaseInterfaces(claimed)
			return nil, libusbError(
				fmt.Sprintf("claim interface %d", ifc.Number), rc)
		}
		claimed++
		if ifc.AltSetting != 0 {
			rc = C.libusb_set_interface_alt_setting(l.handle,
				C.int(ifc.Number), C.int(ifc.AltSetting))
			if rc != 0 {
				l.releaseInterfaces(claimed)
				return nil, libusbError(fmt.Sprintf(
					"interface %d alt setting %d",
					ifc.Number, ifc.AltSetting), rc)
			}
		}
	}

	go l.handleEvents()

	l.log.Info("USB device opened")
	return l, nil
}

// handleEvents runs libusb event handling until Close. All transfer
// callbacks fire on this goroutine.
func (l *Libusb) handleEvents() {
	runtime.LockOSThread()
	defer close(l.eventsDone)

	var tv C.struct_timeval
	tv.tv_usec = 100000
	for {
		l.mu.Lock()
		done := l.closed
		l.mu.Unlock()
		if done {
			return
		}
		C.libusb_handle_events_timeout_completed(l.ctx, &tv, nil)
	}
}

// SubmitIso implements Transport. Packet descriptors must be
// contiguous in the transfer buffer.
func (l *Libusb) SubmitIso(t *IsoTransfer) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	iso, _ := t.priv.(*libusbIso)
	if iso == nil {
		xfer := C.libusb_alloc_transfer(C.int(len(t.Packets)))
		if xfer == nil {
			return fmt.Errorf("iso transfer alloc: out of memory")
		}
		iso = &libusbIso{xfer: xfer, t: t, l: l}
		iso.self = pointer.Save(iso)
		t.priv = iso
	}

	total := 0
	for i := range t.Packets {
		C.sl3_iso_desc(iso.xfer, C.int(i)).length =
			C.uint(t.Packets[i].Length)
		total += t.Packets[i].Length
	}

	xfer := iso.xfer
	xfer.dev_handle = l.handle
	xfer.endpoint = C.uchar(t.Endpoint)
	xfer._type = C.LIBUSB_TRANSFER_TYPE_ISOCHRONOUS
	xfer.buffer = (*C.uchar)(unsafe.Pointer(&t.Buffer[0]))
	xfer.length = C.int(total)
	xfer.num_iso_packets = C.int(len(t.Packets))
	xfer.callback = C.libusb_transfer_cb_fn(unsafe.Pointer(C.sl3TransferCallback))
	xfer.user_data = iso.self

	if rc := C.libusb_submit_transfer(xfer); rc != 0 {
		if rc == C.LIBUSB_ERROR_NO_DEVICE {
			return fmt.Errorf("submit iso: %w", ErrNoDevice)
		}
		return libusbError("libusb_submit_transfer", rc)
	}
	return nil
}

// CancelIso implements Transport. The completion callback fires with
// StatusCancelled once the hardware confirms the cancellation.
func (l *Libusb) CancelIso(t *IsoTransfer) {
	if iso, _ := t.priv.(*libusbIso); iso != nil {
		C.libusb_cancel_transfer(iso.xfer)
	}
}

// WriteInterrupt implements Transport.
func (l *Libusb) WriteInterrupt(endpoint uint8, data []byte, timeout time.Duration) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	var actual C.int
	rc := C.libusb_interrupt_transfer(l.handle, C.uchar(endpoint),
		(*C.uchar)(unsafe.Pointer(&data[0])), C.int(len(data)),
		&actual, C.uint(timeout.Milliseconds()))
	switch rc {
	case 0:
		return nil
	case C.LIBUSB_ERROR_TIMEOUT:
		return fmt.Errorf("endpoint 0x%02x: %w", endpoint, ErrWriteTimeout)
	case C.LIBUSB_ERROR_NO_DEVICE:
		return fmt.Errorf("endpoint 0x%02x: %w", endpoint, ErrNoDevice)
	default:
		return libusbError("libusb_interrupt_transfer", rc)
	}
}

// StartInterruptIn implements Transport. The receive transfer is
// resubmitted after every report; overflow is skipped and a stall is
// cleared before resubmission, so the handler only sees completed
// reports and terminal states.
func (l *Libusb) StartInterruptIn(endpoint uint8, size int, fn InterruptHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.intIn[endpoint]; ok {
		return fmt.Errorf("endpoint 0x%02x: %w", endpoint, ErrAlreadyInFlight)
	}

	xfer := C.libusb_alloc_transfer(0)
	if xfer == nil {
		return fmt.Errorf("interrupt transfer alloc: out of memory")
	}
	buf := C.malloc(C.size_t(size))
	if buf == nil {
		C.libusb_free_transfer(xfer)
		return fmt.Errorf("interrupt buffer alloc: out of memory")
	}

	in := &interruptIn{
		l:        l,
		endpoint: endpoint,
		xfer:     xfer,
		buf:      buf,
		size:     size,
		fn:       fn,
	}
	in.self = pointer.Save(in)

	C.libusb_fill_interrupt_transfer(xfer, l.handle, C.uchar(endpoint),
		(*C.uchar)(buf), C.int(size),
		C.libusb_transfer_cb_fn(unsafe.Pointer(C.sl3TransferCallback)),
		in.self, 0)

	if rc := C.libusb_submit_transfer(xfer); rc != 0 {
		pointer.Unref(in.self)
		C.free(buf)
		C.libusb_free_transfer(xfer)
		return libusbError("libusb_submit_transfer", rc)
	}

	l.intIn[endpoint] = in
	return nil
}

// ClearHalt implements Transport.
func (l *Libusb) ClearHalt(endpoint uint8) error {
	if rc := C.libusb_clear_halt(l.handle, C.uchar(endpoint)); rc != 0 {
		return libusbError("libusb_clear_halt", rc)
	}
	return nil
}

// Close implements Transport.
func (l *Libusb) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, in := range l.intIn {
		in.stopped = true
		C.libusb_cancel_transfer(in.xfer)
	}
	l.mu.Unlock()

	<-l.eventsDone

	l.releaseInterfaces(len(l.cfg.Interfaces))
	C.libusb_close(l.handle)
	C.libusb_exit(l.ctx)
	l.log.Info("USB device closed")
	return nil
}

// AllocBuffer implements BufferAllocator with C-heap memory, which
// keeps transfer buffers out of reach of the Go garbage collector
// while they are owned by the hardware queue.
func (l *Libusb) AllocBuffer(size int) ([]byte, error) {
	p := C.malloc(C.size_t(size))
	if p == nil {
		return nil, fmt.Errorf("transfer buffer alloc: out of memory")
	}
	buf := unsafe.Slice((*byte)(p), size)
	for i := range buf {
		buf[i] = 0
	}
	return buf, nil
}

// FreeBuffer implements BufferAllocator.
func (l *Libusb) FreeBuffer(buf []byte) {
	if len(buf) > 0 {
		C.free(unsafe.Pointer(&buf[0]))
	}
}

func (l *Libusb) releaseInterfaces(n int) {
	for i := 0; i < n; i++ {
		C.libusb_release_interface(l.handle, C.int(l.cfg.Interfaces[i].Number))
	}
}

// completeIso runs on the event goroutine for every isochronous
// completion.
func (iso *libusbIso) complete() {
	t := iso.t
	status := decodeStatus(iso.xfer.status)

	if status == StatusCompleted && t.Direction == DirIn {
		for i := range t.Packets {
			d := C.sl3_iso_desc(iso.xfer, C.int(i))
			if d.status == C.LIBUSB_TRANSFER_COMPLETED {
				t.Packets[i].ActualLength = int(d.actual_length)
			} else {
				t.Packets[i].ActualLength = 0
			}
		}
	}
	t.Complete(t, status)
}

// complete runs on the event goroutine for the persistent interrupt-in
// transfer, implementing its keep-alive policy.
func (in *interruptIn) complete() {
	l := in.l
	l.mu.Lock()
	stopped := in.stopped || l.closed
	l.mu.Unlock()
	if stopped {
		in.release()
		return
	}

	switch decodeStatus(in.xfer.status) {
	case StatusCompleted:
		data := C.GoBytes(in.buf, in.xfer.actual_length)
		in.fn(data, StatusCompleted)
	case StatusNoDevice:
		in.fn(nil, StatusNoDevice)
		in.release()
		return
	case StatusStall:
		l.log.Warn("interrupt-in stall, clearing halt")
		if err := l.ClearHalt(in.endpoint); err != nil {
			l.log.WithError(err).Warn("interrupt-in halt clear failed")
		}
	case StatusOverflow:
		l.log.Warn("interrupt-in overflow")
	default:
		l.log.Warn("interrupt-in transfer error")
	}

	if rc := C.libusb_submit_transfer(in.xfer); rc != 0 {
		if rc != C.LIBUSB_ERROR_NO_DEVICE {
			l.log.WithField("rc", int(rc)).Error("interrupt-in resubmit failed")
		}
		in.fn(nil, StatusNoDevice)
		in.release()
	}
}

func (in *interruptIn) release() {
	in.l.mu.Lock()
	delete(in.l.intIn, in.endpoint)
	in.l.mu.Unlock()
	pointer.Unref(in.self)
	C.free(in.buf)
	C.libusb_free_transfer(in.xfer)
}

// sl3TransferCallback is invoked by libusb for every transfer
// completion and dispatches on the saved Go object.
//
//export sl3TransferCallback
func sl3TransferCallback(xfer *C.libusb_transfer_struct) {
	switch v := pointer.Restore(xfer.user_data).(type) {
	case *libusbIso:
		v.complete()
	case *interruptIn:
		v.complete()
	}
}

// decodeStatus maps a libusb transfer status to the engine's taxonomy.
func decodeStatus(st C.libusb_transfer_status) Status {
	switch st {
	case C.LIBUSB_TRANSFER_COMPLETED:
		return StatusCompleted
	case C.LIBUSB_TRANSFER_CANCELLED:
		return StatusCancelled
	case C.LIBUSB_TRANSFER_NO_DEVICE:
		return StatusNoDevice
	case C.LIBUSB_TRANSFER_OVERFLOW:
		return StatusOverflow
	case C.LIBUSB_TRANSFER_STALL:
		return StatusStall
	default:
		return StatusError
	}
}

func libusbError(op string, rc C.int) error {
	return fmt.Errorf("%s: %s", op, C.GoString(C.libusb_strerror(C.int(rc))))
}
