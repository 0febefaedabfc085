package volume

import (
	"errors"
	"fmt"
)

// State is a chunk's position in the generate/mesh lifecycle.
type State uint8

const (
	StateEmpty State = iota
	StateGenerating
	StateFilled
	StateMeshing
	StateReady
	StateStale
	StateEvicted
)

var stateNames = [...]string{"empty", "generating", "filled", "meshing", "ready", "stale", "evicted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Busy reports whether a worker owns the chunk's data in this state.
func (s State) Busy() bool { return s == StateGenerating || s == StateMeshing }

// HasVoxels reports whether the chunk's voxel data is complete and
// readable by the coordinator.
func (s State) HasVoxels() bool {
	switch s {
	case StateFilled, StateMeshing, StateReady, StateStale:
		return true
	}
	return false
}

var transitions = map[State][]State{
	// Generating -> Empty is the failed-generation path.
	StateEmpty:      {StateGenerating, StateEvicted},
	StateGenerating: {StateFilled, StateEmpty},
	StateFilled:     {StateMeshing, StateEvicted},
	// Meshing -> Filled/Stale are the failed or superseded extraction paths.
	StateMeshing: {StateReady, StateStale, StateFilled},
	StateReady:   {StateStale, StateEvicted},
	StateStale:   {StateMeshing, StateEvicted},
	StateEvicted: nil,
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid state transition")

type TransitionError struct {
	Key  ChunkKey
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("chunk %v: %s -> %s: %v", e.Key, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
