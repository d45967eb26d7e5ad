package session

import (
	"fmt"
	"sync"
)

// transitions encodes §4.4's legal edges. A Trigger not present for the
// current State is rejected rather than silently ignored, so that a caller
// sending messages out of order gets ProtocolViolation instead of an
// inconsistent Session.
var transitions = map[State]map[Trigger]State{
	StateIdle: {
		TriggerTransportUp: StateCapabilities,
	},
	StateCapabilities: {
		TriggerSessionStart: StateStarting,
	},
	StateStarting: {
		TriggerSessionAccepted: StateActiveListening,
		TriggerSessionRejected: StateClosed,
		TriggerStartingTimeout: StateClosed,
	},
	StateActiveListening: {
		TriggerUtteranceReady: StateActiveProcessing,
		TriggerBargeIn:        StateActiveListening, // ignored while not speaking
		TriggerSessionEnd:     StateEnding,
	},
	StateActiveProcessing: {
		TriggerFirstFrameOut: StateActiveSpeaking,
		// A response that never emits audio — empty-utterance error,
		// processing_timeout fallback — returns straight to Listening
		// without passing through Speaking.
		TriggerResponseDone: StateActiveListening,
		TriggerSessionEnd:   StateEnding,
	},
	StateActiveSpeaking: {
		TriggerResponseDone:   StateActiveListening,
		TriggerResponseCancel: StateActiveListening,
		TriggerBargeIn:        StateActiveProcessing,
		TriggerSessionEnd:     StateEnding,
	},
	StateEnding: {
		TriggerSessionEnded: StateClosed,
	},
}

// globalTriggers fire from any state, per "Any → Closed" in §4.4.
var globalTriggers = map[Trigger]State{
	TriggerTransportLoss: StateClosed,
	TriggerFatalError:    StateClosed,
}

// Machine is a small, mutex-guarded state machine driving one Session's
// lifecycle. It is intentionally generic over the fixed transition table
// above rather than a reusable library type, since both the client and
// server sides of ASP share exactly one state graph.
type Machine struct {
	mu      sync.Mutex
	state   State
	onEnter func(from, to State, trig Trigger)
}

// NewMachine starts a Machine in StateIdle. onEnter, if non-nil, is called
// synchronously after every accepted transition (useful for logging and
// metrics) while the internal lock is released.
func NewMachine(onEnter func(from, to State, trig Trigger)) *Machine {
	return &Machine{state: StateIdle, onEnter: onEnter}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies trig to the machine's current state. It returns the
// resulting state, or an error if trig is not legal from the current
// state (this is a ProtocolViolation at the ASP layer, not a panic —
// callers translate it to an `error` control message).
func (m *Machine) Fire(trig Trigger) (State, error) {
	m.mu.Lock()
	from := m.state

	if to, ok := globalTriggers[trig]; ok {
		m.state = to
		m.mu.Unlock()
		if m.onEnter != nil {
			m.onEnter(from, to, trig)
		}
		return to, nil
	}

	edges, ok := transitions[from]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("session: no transitions defined from state %q", from)
	}
	to, ok := edges[trig]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("session: trigger %q is not legal from state %q", trig, from)
	}

	m.state = to
	m.mu.Unlock()
	if m.onEnter != nil {
		m.onEnter(from, to, trig)
	}
	return to, nil
}

// Can reports whether trig would be accepted from the current state,
// without applying it.
func (m *Machine) Can(trig Trigger) bool {
	m.mu.Lock()
	from := m.state
	m.mu.Unlock()

	if _, ok := globalTriggers[trig]; ok {
		return true
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = edges[trig]
	return ok
}
