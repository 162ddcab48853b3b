package optim

import (
	"math"

	"github.com/inferloop/dpsvi/pkg/interfaces"
	"github.com/inferloop/dpsvi/pkg/models"
)

// Adam implements the Adam optimizer (Kingma & Ba) with bias-corrected
// moment estimates.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// NewAdam creates an Adam optimizer with the customary default moments.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

type adamState struct {
	params models.GradientStructure
	m      models.GradientStructure
	v      models.GradientStructure
	step   int
}

func (o *Adam) Init(params models.GradientStructure) interfaces.OptimizerState {
	return adamState{
		params: params.Clone(),
		m:      params.ZerosLike(),
		v:      params.ZerosLike(),
	}
}

func (o *Adam) GetParams(state interfaces.OptimizerState) models.GradientStructure {
	return state.(adamState).params
}

func (o *Adam) Update(grad models.GradientStructure, state interfaces.OptimizerState) (interfaces.OptimizerState, error) {
	s := state.(adamState)
	t := s.step + 1

	params := s.params.Clone()
	m := s.m.Clone()
	v := s.v.Clone()

	mCorr := 1 - math.Pow(o.Beta1, float64(t))
	vCorr := 1 - math.Pow(o.Beta2, float64(t))

	for i := range params {
		g := grad[i].Values.Data
		for j := range params[i].Values.Data {
			m[i].Values.Data[j] = o.Beta1*m[i].Values.Data[j] + (1-o.Beta1)*g[j]
			v[i].Values.Data[j] = o.Beta2*v[i].Values.Data[j] + (1-o.Beta2)*g[j]*g[j]
			mHat := m[i].Values.Data[j] / mCorr
			vHat := v[i].Values.Data[j] / vCorr
			params[i].Values.Data[j] -= o.LearningRate * mHat / (math.Sqrt(vHat) + o.Epsilon)
		}
	}

	return adamState{params: params, m: m, v: v, step: t}, nil
}

func (o *Adam) HasMutableState() bool { return false }
