package optim

import (
	"math"

	"github.com/inferloop/dpsvi/pkg/interfaces"
	"github.com/inferloop/dpsvi/pkg/models"
)

// ADADP is the adaptive-learning-rate optimizer of Koskela & Honkela
// (https://arxiv.org/abs/1809.03832), designed for DP-SGD style training
// where gradients are noisy.
//
// It alternates between two phases. On even steps it takes both a full step
// and a first half step from the same point. On odd steps it completes the
// second half step with a fresh gradient and compares the two-half-step
// result against the full step; the discrepancy drives a step-size update
// lr' = lr * sqrt(tol/err), clamped to [0.9, 1.1], and when the stability
// check is enabled an update whose discrepancy exceeds tol is rejected
// entirely.
type ADADP struct {
	LearningRate   float64
	Tol            float64
	StabilityCheck bool
}

const (
	adadpAlphaMin = 0.9
	adadpAlphaMax = 1.1
)

// NewADADP creates an ADADP optimizer with the stability check enabled.
func NewADADP(learningRate, tol float64) *ADADP {
	return &ADADP{LearningRate: learningRate, Tol: tol, StabilityCheck: true}
}

type adadpState struct {
	step    int
	params  models.GradientStructure
	lr      float64
	stepped models.GradientStructure
	prev    models.GradientStructure
}

func (o *ADADP) Init(params models.GradientStructure) interfaces.OptimizerState {
	return adadpState{
		step:    0,
		params:  params.Clone(),
		lr:      o.LearningRate,
		stepped: params.ZerosLike(),
		prev:    params.Clone(),
	}
}

func (o *ADADP) GetParams(state interfaces.OptimizerState) models.GradientStructure {
	return state.(adadpState).params
}

func (o *ADADP) Update(grad models.GradientStructure, state interfaces.OptimizerState) (interfaces.OptimizerState, error) {
	s := state.(adadpState)

	if s.step%2 == 0 {
		// Full step and first half step from the same point.
		return adadpState{
			step:    s.step + 1,
			params:  axpy(s.params, grad, -s.lr/2),
			lr:      s.lr,
			stepped: axpy(s.params, grad, -s.lr),
			prev:    s.params,
		}, nil
	}

	// Second half step with a fresh gradient, then compare against the
	// full step to estimate the local error.
	params := axpy(s.params, grad, -s.lr/2)
	err := l2Diff(s.stepped, params)

	factor := adadpAlphaMax
	if err > 0 {
		factor = math.Sqrt(o.Tol / err)
		if factor < adadpAlphaMin {
			factor = adadpAlphaMin
		} else if factor > adadpAlphaMax {
			factor = adadpAlphaMax
		}
	}

	if o.StabilityCheck && err > o.Tol {
		params = s.prev
	}

	return adadpState{
		step:    s.step + 1,
		params:  params,
		lr:      s.lr * factor,
		stepped: s.stepped,
		prev:    s.prev,
	}, nil
}

func (o *ADADP) HasMutableState() bool { return false }
