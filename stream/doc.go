// Package stream implements the real-time streaming engine: a fixed
// pool of reusable isochronous transfer slots per direction, the bridge
// that copies sample-frames between transfer buffers and the
// application's ring buffer, and the controller that owns stream state
// and the completion-path error policy.
//
// The engine runs in the transport's completion context and never
// blocks there. Playback is paced by implicit feedback: the frame total
// of each capture cycle overrides the nominal-rate pacer for the next
// playback cycle, so starting playback implicitly starts capture, and
// capture keeps running while either its own buffer is bound or
// playback is running.
//
// Transient transfer faults (overflow, stall) are recovered by
// resubmitting the slot. Any other fault increments the slot's
// consecutive-error counter; at three the stream is forcibly stopped
// and reported as an overrun or underrun.
package stream
