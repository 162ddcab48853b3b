package interfaces

import (
	"github.com/inferloop/dpsvi/pkg/models"
	"github.com/inferloop/dpsvi/pkg/rng"
)

// LossEvaluator is the model/loss collaborator of the gradient pipeline. It
// owns the probabilistic model definition, its log-likelihood evaluation and
// the differentiation producing per-example gradients; the pipeline treats
// all three as opaque.
//
// Both Loss and LossGradient are invoked once per example with a batch whose
// leading dimension has been restored to size one, so implementations never
// need to special-case batching.
type LossEvaluator interface {
	// Loss evaluates the scalar loss of a single-example batch.
	Loss(params models.GradientStructure, key rng.Key, example models.Batch) (float64, error)

	// LossGradient evaluates the scalar loss of a single-example batch and
	// its gradient with respect to params. The returned structure must use
	// the same site ordering and shapes as params.
	LossGradient(params models.GradientStructure, key rng.Key, example models.Batch) (float64, models.GradientStructure, error)

	// ObservationScales reports the constant factors by which the
	// per-example log-likelihood contributions are scaled during loss
	// computation, one per observation site. The pipeline requires a
	// single distinct scale; an empty slice means no scaling is applied.
	ObservationScales(params models.GradientStructure, example models.Batch) []float64
}
