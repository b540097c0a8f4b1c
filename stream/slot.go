package stream

import "github.com/nvgeele/sl3/transport"

// SlotState is the retry state machine of one transfer slot.
type SlotState uint8

const (
	// SlotIdle: the slot is owned by the engine, nothing in flight.
	SlotIdle SlotState = iota
	// SlotInFlight: the slot buffer is owned by the hardware queue.
	SlotInFlight
	// SlotRetrying: the last completion faulted and the slot was
	// resubmitted without advancing stream state.
	SlotRetrying
	// SlotAborted: the consecutive-error threshold was reached; the
	// slot is never resubmitted.
	SlotAborted
)

// String returns a human-readable state name.
func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotInFlight:
		return "in-flight"
	case SlotRetrying:
		return "retrying"
	default:
		return "aborted"
	}
}

// slot is one reusable transfer pool entry. Exactly one submission is
// outstanding per slot at a time: state and retries are touched either
// before submission (under the operation lock, with no completion
// pending) or inside the completion path, never both at once. The
// WaitGroup accounting in pool.go sequences the two.
type slot struct {
	index   int
	state   SlotState
	retries int
	xfer    *transport.IsoTransfer
}
