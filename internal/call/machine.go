package call

import (
	"github.com/qmuntal/stateless"

	"github.com/sirco-team/talky/internal/errs"
	"github.com/sirco-team/talky/internal/model"
)

// newMachine builds the lifecycle machine positioned at the given
// status. Calls are short-lived records, so a fresh machine per
// transition check is cheaper than keeping one resident per call.
func newMachine(current model.CallStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(current)

	sm.Configure(model.CallRinging).
		Permit(TriggerAccept, model.CallConnected).
		Permit(TriggerEnd, model.CallEnded).
		Permit(TriggerExpire, model.CallEnded)

	sm.Configure(model.CallConnected).
		Permit(TriggerEnd, model.CallEnded)

	sm.Configure(model.CallEnded)
	// No transitions out of ended.

	return sm
}

// Transition fires trigger against a call in the given status and
// returns the resulting status. An impermissible transition (accepting
// an ended call, expiring a connected one) comes back as ErrNotFound so
// callers never learn more about a call than "not found or not yours".
func Transition(current model.CallStatus, trigger Trigger) (model.CallStatus, error) {
	sm := newMachine(current)
	if err := sm.Fire(trigger); err != nil {
		return current, errs.ErrNotFound
	}
	next := sm.MustState().(model.CallStatus)
	return next, nil
}

// CanFire reports whether trigger is permitted from the given status.
func CanFire(current model.CallStatus, trigger Trigger) bool {
	ok, err := newMachine(current).CanFire(trigger)
	return err == nil && ok
}
