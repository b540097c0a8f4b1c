package pacing

import "github.com/nvgeele/sl3/format"

// Packet sizing constants.
//
//	48 kHz:   48000 / 8000 = 6.0    frames/packet -> always 6
//	44.1 kHz: 44100 / 8000 = 5.5125 frames/packet -> 5 or 6
const (
	frames48k     = 6
	frames44kBase = 5
	fracNumerator = 4100 // 44100 - 5*8000
	microframes   = 8000 // microframes per second
)

// Pacer produces the per-packet frame count for the current nominal
// rate, carrying the sub-frame remainder for 44.1 kHz in an integer
// accumulator.
//
// Pacer is not safe for concurrent use. Callers serialize access the
// same way the rest of the per-stream state is serialized: either before
// any transfers are in flight, or from the playback completion path.
type Pacer struct {
	rate int
	acc  int
}

// NewPacer returns a pacer for the given nominal rate. The rate must
// have been validated with format.ValidateRate.
func NewPacer(rate int) *Pacer {
	return &Pacer{rate: rate}
}

// Rate returns the current nominal rate.
func (p *Pacer) Rate() int {
	return p.rate
}

// SetRate switches the nominal rate and clears the fractional
// accumulator. Only legal while no stream is running.
func (p *Pacer) SetRate(rate int) {
	p.rate = rate
	p.acc = 0
}

// Reset clears the fractional accumulator. Called on playback start so
// every stream begins with the same packet pattern.
func (p *Pacer) Reset() {
	p.acc = 0
}

// NextPacketFrames returns the frame count for the next isochronous
// packet and advances the accumulator.
func (p *Pacer) NextPacketFrames() int {
	if p.rate == format.Rate48000 {
		return frames48k
	}

	frames := frames44kBase
	p.acc += fracNumerator
	if p.acc >= microframes {
		p.acc -= microframes
		frames++
	}
	return frames
}
