// Package camera tracks the readiness of capture devices behind numbered
// runtime sources. Each source moves through an explicit state machine
//
//	Idle --Request--> Requesting --Granted--> Ready
//	                             --Denied---> Failed
//
// and any state returns to Idle on Reset.
package camera

import (
	"errors"
	"fmt"
)

// State is the readiness of one capture source.
type State int

const (
	Idle State = iota
	Requesting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event drives a transition.
type Event int

const (
	Request Event = iota // device access asked for
	Granted              // stream is ready
	Denied               // permission refused, device missing or timed out
	Reset                // forget everything, back to Idle
)

func (e Event) String() string {
	switch e {
	case Request:
		return "request"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned for an event the current state does not
// accept.
var ErrInvalidTransition = errors.New("camera: invalid transition")

// Transition returns the state reached from s on e.
func Transition(s State, e Event) (State, error) {
	if e == Reset {
		return Idle, nil
	}
	switch {
	case s == Idle && e == Request:
		return Requesting, nil
	case s == Requesting && e == Granted:
		return Ready, nil
	case s == Requesting && e == Denied:
		return Failed, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
