package engine

import (
	"errors"
	"time"
)

// State is the lifecycle position of an assembly run.
type State string

const (
	// StateIdle means no run is in progress; scene images are decoded here.
	StateIdle State = "IDLE"
	// StatePriming means the encoder is being opened and narration started.
	StatePriming State = "PRIMING"
	// StateRecording means frames and narration are flowing into the encoder.
	StateRecording State = "RECORDING"
	// StateFinalizing means the encoder was asked to stop and is flushing.
	StateFinalizing State = "FINALIZING"
	// StateDone means a blob was produced.
	StateDone State = "DONE"
	// StateFailed means the run ended with an error and no blob.
	StateFailed State = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StateIdle:       {StatePriming, StateFailed},
	StatePriming:    {StateRecording, StateFailed},
	StateRecording:  {StateFinalizing, StateFailed},
	StateFinalizing: {StateDone, StateFailed},
	StateDone:       {},
	StateFailed:     {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one state change and the event that caused it.
type Transition struct {
	From  State
	To    State
	Event string
	At    time.Time
}
