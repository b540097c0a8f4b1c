// Package format defines the fixed audio format of the Rane SL3 and
// validation helpers shared by every other package in this module.
//
// The SL3 streams exactly six channels of 24-bit PCM in both directions.
// Samples are packed as three little-endian bytes, so one sample-frame is
// 18 bytes. High-speed isochronous packets carry at most 7 frames
// (126 bytes), and the device runs at one of two nominal rates:
// 44100 Hz or 48000 Hz.
//
// These values are properties of the hardware and are not configurable.
package format
