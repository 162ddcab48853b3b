package svi

import (
	"github.com/inferloop/dpsvi/pkg/interfaces"
	"github.com/inferloop/dpsvi/pkg/rng"
)

// State is the immutable per-run snapshot threaded through every training
// step: the opaque optimizer state, the current randomness key and the
// cached observation-scale factor of the model.
//
// States are replaced wholesale, never mutated; a failed step leaves the
// caller's value untouched. Two concurrent steps must operate on two
// distinct State values.
type State struct {
	optState         interfaces.OptimizerState
	rngKey           rng.Key
	observationScale float64
}

// NewState assembles a state snapshot. Exposed for callers that persist and
// restore training runs.
func NewState(optState interfaces.OptimizerState, key rng.Key, observationScale float64) State {
	return State{
		optState:         optState,
		rngKey:           key,
		observationScale: observationScale,
	}
}

// OptimizerState returns the opaque optimizer state.
func (s State) OptimizerState() interfaces.OptimizerState {
	return s.optState
}

// RNGKey returns the current randomness key.
func (s State) RNGKey() rng.Key {
	return s.rngKey
}

// ObservationScale returns the cached loss-scale factor of the model.
func (s State) ObservationScale() float64 {
	return s.observationScale
}

func (s State) withRNGKey(key rng.Key) State {
	return State{
		optState:         s.optState,
		rngKey:           key,
		observationScale: s.observationScale,
	}
}

func (s State) withOptimizerState(optState interfaces.OptimizerState) State {
	return State{
		optState:         optState,
		rngKey:           s.rngKey,
		observationScale: s.observationScale,
	}
}
