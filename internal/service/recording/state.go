package recording

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a recording session.
type State int

const (
	// StateIdle - no device or recognition session is held.
	StateIdle State = iota
	// StateSettingUpDevice - waiting for the capture device to be acquired.
	StateSettingUpDevice
	// StateAwaitingConnection - device ready, waiting for the recognition session to open.
	StateAwaitingConnection
	// StateStreaming - audio is forwarded and transcript events are consumed.
	StateStreaming
	// StateStopping - audio forwarding stopped, in-flight finals are still consumed.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSettingUpDevice:
		return "SETTING_UP_DEVICE"
	case StateAwaitingConnection:
		return "AWAITING_CONNECTION"
	case StateStreaming:
		return "STREAMING"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateStopping; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("recording: unknown state %q", text)
}

// IsActive reports whether the session holds resources.
func (s State) IsActive() bool {
	return s != StateIdle
}

// ErrInvalidTransition is returned for a transition the table does not allow.
var ErrInvalidTransition = errors.New("recording: invalid state transition")

// State transitions:
//
//	IDLE → SETTING_UP_DEVICE → AWAITING_CONNECTION → STREAMING → STOPPING → IDLE
//	         │                    │                     │
//	         └────────────────────┴─────────────────────┴──→ IDLE (failure)
var transitions = map[State][]State{
	StateIdle:               {StateSettingUpDevice},
	StateSettingUpDevice:    {StateAwaitingConnection, StateIdle},
	StateAwaitingConnection: {StateStreaming, StateIdle},
	StateStreaming:          {StateStopping, StateIdle},
	StateStopping:           {StateIdle},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
