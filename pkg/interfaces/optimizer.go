package interfaces

import (
	"github.com/inferloop/dpsvi/pkg/models"
)

// OptimizerState is the opaque state owned by an optimizer implementation.
// The pipeline threads it through training steps without inspecting it.
type OptimizerState interface{}

// Optimizer is the parameter-update collaborator of the gradient pipeline.
//
// Implementations must be purely functional: Update returns a fresh state
// value and never mutates the one passed in. Optimizers that keep hidden
// mutable state must report it through HasMutableState; the pipeline rejects
// such optimizers at initialization because side-channel state breaks its
// reproducibility and privacy-accounting assumptions.
type Optimizer interface {
	// Init creates the initial optimizer state for the given parameters.
	Init(params models.GradientStructure) OptimizerState

	// GetParams extracts the current parameter values from a state.
	GetParams(state OptimizerState) models.GradientStructure

	// Update consumes a batch gradient and a state and returns the
	// successor state.
	Update(gradient models.GradientStructure, state OptimizerState) (OptimizerState, error)

	// HasMutableState reports whether the optimizer keeps internal state
	// outside the threaded OptimizerState value.
	HasMutableState() bool
}
