// Package pipeline implements the voice interaction state machine.
//
// A [Controller] listens for the wake phrase while idle, confirms it with a
// short silence window, captures one utterance, cleans and recognises it,
// dispatches the resulting intent to an executor and speaks the outcome:
//
//	IDLE → WAKE_CONFIRM → CAPTURING → RECOGNIZING → DISPATCHING → RESPONDING → IDLE
//	                          ↑            │                          │
//	                          └── retry ───┘     NEEDS_INFO ←─────────┘
//
// At most one session is active at a time. [Controller.Stop] or a recognised
// stop phrase ends the session from any state.
package pipeline

import "fmt"

// State is a controller state.
type State int

const (
	StateIdle State = iota
	StateWakeConfirm
	StateCapturing
	StateRecognizing
	StateDispatching
	StateResponding
	StateNeedsInfo
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWakeConfirm:
		return "WAKE_CONFIRM"
	case StateCapturing:
		return "CAPTURING"
	case StateRecognizing:
		return "RECOGNIZING"
	case StateDispatching:
		return "DISPATCHING"
	case StateResponding:
		return "RESPONDING"
	case StateNeedsInfo:
		return "NEEDS_INFO"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON events.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateNeedsInfo; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown state %q", b)
}

// Trigger names what caused a transition.
type Trigger string

const (
	TriggerWake              Trigger = "wake"
	TriggerOverride          Trigger = "transcript_override"
	TriggerConfirmed         Trigger = "confirm_silence"
	TriggerFalsePositive     Trigger = "false_positive"
	TriggerEndSilence        Trigger = "end_silence"
	TriggerMaxDuration       Trigger = "max_duration"
	TriggerNoiseTooHigh      Trigger = "noise_too_high"
	TriggerSilenceTimeout    Trigger = "silence_timeout"
	TriggerConfident         Trigger = "confident"
	TriggerLowConfidence     Trigger = "low_confidence"
	TriggerRetriesExhausted  Trigger = "retries_exhausted"
	TriggerEngineUnavailable Trigger = "engine_unavailable"
	TriggerExecuted          Trigger = "executed"
	TriggerNeedsInfo         Trigger = "needs_info"
	TriggerPlaybackDone      Trigger = "playback_done"
	TriggerSpeech            Trigger = "speech"
	TriggerInfoTimeout       Trigger = "needs_info_timeout"
	TriggerStopPhrase        Trigger = "stop_phrase"
	TriggerStop              Trigger = "stop"
	TriggerShutdown          Trigger = "shutdown"
)

// allowed lists the legal transitions. IDLE is reachable from every state;
// it is left out of the table and checked separately.
var allowed = map[State][]State{
	StateIdle:        {StateWakeConfirm},
	StateWakeConfirm: {StateCapturing},
	StateCapturing:   {StateRecognizing},
	StateRecognizing: {StateDispatching, StateCapturing},
	StateDispatching: {StateResponding},
	StateResponding:  {StateNeedsInfo},
	StateNeedsInfo:   {StateCapturing},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to State) bool {
	if to == StateIdle {
		return from != StateIdle
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
