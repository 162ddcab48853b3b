// Package ml provides example model collaborators for the DP-SVI pipeline.
//
// Input preprocessing randomness (shuffling, subsampling, binarization) is
// the caller's concern and must never be drawn from the pipeline's own key
// stream: repeated re-randomization of the same inputs across epochs can
// bias likelihood estimates and is accounted for separately, if at all.
package ml

import (
	"math"

	"github.com/inferloop/dpsvi/pkg/errors"
	"github.com/inferloop/dpsvi/pkg/models"
	"github.com/inferloop/dpsvi/pkg/rng"
)

// LogisticRegression is a per-example loss evaluator for binary logistic
// regression with closed-form gradients. The per-example negative
// log-likelihood is scaled by ObservationScale, mirroring the dataset-size
// normalization a subsampled variational objective applies to each
// minibatch element.
//
// Parameter sites: "weights" of shape [NumFeatures] and "bias" of shape [1].
// Batch arguments: features of shape [n, NumFeatures] and labels of shape
// [n] with values in {-1, +1}.
type LogisticRegression struct {
	NumFeatures      int
	ObservationScale float64
}

// NewLogisticRegression creates the evaluator. observationScale is
// typically the total dataset size.
func NewLogisticRegression(numFeatures int, observationScale float64) *LogisticRegression {
	return &LogisticRegression{NumFeatures: numFeatures, ObservationScale: observationScale}
}

// InitParams returns zero-initialized parameters in site order.
func (m *LogisticRegression) InitParams() models.GradientStructure {
	return models.GradientStructure{
		{Name: "weights", Values: models.Zeros(m.NumFeatures)},
		{Name: "bias", Values: models.Zeros(1)},
	}
}

// Loss evaluates the scaled negative log-likelihood of a single example.
func (m *LogisticRegression) Loss(params models.GradientStructure, key rng.Key, example models.Batch) (float64, error) {
	loss, _, err := m.evaluate(params, example, false)
	return loss, err
}

// LossGradient evaluates the loss of a single example and its gradient.
func (m *LogisticRegression) LossGradient(params models.GradientStructure, key rng.Key, example models.Batch) (float64, models.GradientStructure, error) {
	return m.evaluate(params, example, true)
}

// ObservationScales reports the single scale applied to the likelihood.
func (m *LogisticRegression) ObservationScales(params models.GradientStructure, example models.Batch) []float64 {
	return []float64{m.ObservationScale}
}

func (m *LogisticRegression) evaluate(params models.GradientStructure, example models.Batch, wantGrad bool) (float64, models.GradientStructure, error) {
	if len(params) != 2 || len(example) != 2 {
		return 0, nil, errors.NewInvalidArgumentError(errors.CodeStructureMismatch,
			"logistic regression expects weights/bias parameters and features/labels arguments")
	}

	weights := params[0].Values.Data
	bias := params[1].Values.Data[0]
	features := example[0].Data
	label := example[1].Data[0]

	if len(features) != m.NumFeatures {
		return 0, nil, errors.NewInvalidArgumentError(errors.CodeShapeMismatch,
			"feature dimension does not match the model")
	}

	logit := bias
	for j, w := range weights {
		logit += w * features[j]
	}

	// Negative log-likelihood of y in {-1,+1}: log(1 + exp(-y z)),
	// evaluated stably for large |z|.
	margin := label * logit
	loss := m.ObservationScale * stableLog1pExp(-margin)

	if !wantGrad {
		return loss, nil, nil
	}

	// d/dz log(1+exp(-yz)) = -y * sigmoid(-yz)
	coeff := m.ObservationScale * -label * sigmoid(-margin)
	gradW := models.Zeros(m.NumFeatures)
	for j := range gradW.Data {
		gradW.Data[j] = coeff * features[j]
	}
	gradB := models.Scalar(coeff)

	grad := models.GradientStructure{
		{Name: "weights", Values: gradW},
		{Name: "bias", Values: gradB},
	}
	return loss, grad, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func stableLog1pExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
