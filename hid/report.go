package hid

// Device identity, carried in every report header.
const (
	VendorID  = 0x1CC5
	ProductID = 0x0001
)

// ReportSize is the fixed control frame length in both directions.
const ReportSize = 64

// payloadOffset is where the payload starts, after the command byte
// and the 4-byte identity header.
const payloadOffset = 5

// Command bytes.
const (
	CmdInit          = 0x03
	CmdSampleRate    = 0x31
	CmdQuerySwitches = 0x32
	CmdRouting       = 0x33
	CmdStatus        = 0x36
)

// Notification bytes. The device sends these unsolicited on the
// interrupt-in endpoint.
const (
	NotifyOverload = 0x34 // 6 per-channel overload flags
	NotifySwitches = 0x38 // 3 per-pair switch positions
	NotifyUSBPort  = 0x39 // 4 port-status bytes
)

// Pair identifies one stereo channel pair in routing commands and
// switch reports.
type Pair uint8

// Channel pair identifiers, as the device numbers them.
const (
	PairDeckA Pair = 0x08 // channels 1/2
	PairDeckB Pair = 0x0E // channels 3/4
	PairDeckC Pair = 0x14 // channels 5/6
)

// Pairs lists the channel pairs in wire order.
var Pairs = [3]Pair{PairDeckA, PairDeckB, PairDeckC}

// RouteMode selects the signal source for one channel pair.
type RouteMode uint8

const (
	// RouteAnalog passes the pair's analog input through.
	RouteAnalog RouteMode = 0x00
	// RouteUSB sources the pair from the USB playback stream.
	RouteUSB RouteMode = 0x01
)

// routingSubType is the constant second payload byte of a routing
// command, as observed in wire captures.
const routingSubType = 0x01

// EncodeReport builds one 64-byte control frame: command byte, the
// vendor and product IDs big-endian, then the payload. Payload bytes
// past the frame capacity are dropped.
func EncodeReport(cmd byte, payload []byte) []byte {
	buf := make([]byte, ReportSize)
	buf[0] = cmd
	buf[1] = byte(VendorID >> 8)
	buf[2] = byte(VendorID & 0xFF)
	buf[3] = byte(ProductID >> 8)
	buf[4] = byte(ProductID & 0xFF)
	copy(buf[payloadOffset:], payload)
	return buf
}
