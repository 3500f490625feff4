package call

// Trigger represents an event that causes a call state transition.
type Trigger string

const (
	// TriggerAccept moves a ringing call to connected. Callee only; the
	// guard lives in the service, not the machine.
	TriggerAccept Trigger = "accept"

	// TriggerEnd covers decline and hangup: either party ends a ringing
	// or connected call.
	TriggerEnd Trigger = "end"

	// TriggerExpire ends a call that rang past its TTL.
	TriggerExpire Trigger = "expire"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
