// Package call implements the call lifecycle state machine and the
// signaling relay that rides on the document store.
package call

import "github.com/sirco-team/talky/internal/model"

// The machine's states are the persisted call statuses themselves:
// ringing is the initial state, ended is terminal.

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s model.CallStatus) bool {
	return s == model.CallEnded
}

// IsActive reports whether a call in this status still occupies a slot
// in the pending/active call lists.
func IsActive(s model.CallStatus) bool {
	return s == model.CallRinging || s == model.CallConnected
}
