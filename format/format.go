package format

import "errors"

// Audio format constants for the SL3 hardware.
const (
	// NumChannels is the channel count in both directions.
	NumChannels = 6

	// BytesPerSample is the size of one 24-bit sample.
	BytesPerSample = 3

	// BytesPerFrame is the size of one sample-frame (all channels).
	BytesPerFrame = NumChannels * BytesPerSample

	// MaxPacketBytes is the largest isochronous packet the device
	// sends or accepts.
	MaxPacketBytes = 126

	// MaxPacketFrames is MaxPacketBytes expressed in sample-frames.
	MaxPacketFrames = MaxPacketBytes / BytesPerFrame
)

// Nominal sample rates supported by the device.
const (
	Rate44100 = 44100
	Rate48000 = 48000
)

var (
	// ErrInvalidRate is returned when a rate other than 44100 or
	// 48000 Hz is requested.
	ErrInvalidRate = errors.New("sample rate must be 44100 or 48000")

	// ErrUnalignedBuffer is returned when a buffer length is not a
	// multiple of the sample-frame size.
	ErrUnalignedBuffer = errors.New("buffer length is not frame-aligned")
)

// ValidateRate checks that rate is one of the two nominal rates.
func ValidateRate(rate int) error {
	if rate != Rate44100 && rate != Rate48000 {
		return ErrInvalidRate
	}
	return nil
}

// ValidateBuffer checks that a byte region can hold whole sample-frames.
func ValidateBuffer(data []byte) error {
	if len(data) == 0 || len(data)%BytesPerFrame != 0 {
		return ErrUnalignedBuffer
	}
	return nil
}

// FramesToBytes converts a frame count to a byte count.
func FramesToBytes(frames int) int {
	return frames * BytesPerFrame
}

// BytesToFrames converts a byte count to whole frames, discarding any
// trailing partial frame.
func BytesToFrames(bytes int) int {
	return bytes / BytesPerFrame
}
