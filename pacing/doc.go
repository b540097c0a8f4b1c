// Package pacing computes how many sample-frames each outgoing
// isochronous packet should carry.
//
// USB high-speed isochronous runs at 8000 microframes per second. At
// 48000 Hz that is exactly 6 frames per packet. At 44100 Hz it is
// 5.5125 frames per packet, which the Pacer reproduces exactly with
// integer arithmetic: a base of 5 frames plus one extra frame whenever a
// fractional accumulator (incremented by 4100 per packet) overflows the
// 8000 denominator. Over any 8000 consecutive packets the pacer emits
// exactly 44100 frames.
//
// The FeedbackTracker overrides the pacer while capture is running: the
// frame total of each capture cycle is distributed across the packets of
// the next playback cycle, so playback tracks the device's real clock
// instead of the nominal rate.
package pacing
