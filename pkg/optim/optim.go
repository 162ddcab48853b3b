// Package optim provides purely functional optimizer collaborators for the
// DP-SVI pipeline. Every optimizer threads its entire state through the
// OptimizerState value; none keeps hidden mutable state.
package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/inferloop/dpsvi/pkg/interfaces"
	"github.com/inferloop/dpsvi/pkg/models"
)

// axpy returns params + alpha*grad, site by site, as a fresh structure.
func axpy(params models.GradientStructure, grad models.GradientStructure, alpha float64) models.GradientStructure {
	out := params.Clone()
	for i := range out {
		floats.AddScaled(out[i].Values.Data, alpha, grad[i].Values.Data)
	}
	return out
}

// l2Diff returns the l2 norm of (a - b) over the whole parameter vector.
func l2Diff(a, b models.GradientStructure) float64 {
	var sumSq float64
	for i := range a {
		for j, v := range a[i].Values.Data {
			d := v - b[i].Values.Data[j]
			sumSq += d * d
		}
	}
	return math.Sqrt(sumSq)
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	LearningRate float64
}

// NewSGD creates an SGD optimizer with the given learning rate.
func NewSGD(learningRate float64) *SGD {
	return &SGD{LearningRate: learningRate}
}

type sgdState struct {
	params models.GradientStructure
}

func (o *SGD) Init(params models.GradientStructure) interfaces.OptimizerState {
	return sgdState{params: params.Clone()}
}

func (o *SGD) GetParams(state interfaces.OptimizerState) models.GradientStructure {
	return state.(sgdState).params
}

func (o *SGD) Update(grad models.GradientStructure, state interfaces.OptimizerState) (interfaces.OptimizerState, error) {
	s := state.(sgdState)
	return sgdState{params: axpy(s.params, grad, -o.LearningRate)}, nil
}

func (o *SGD) HasMutableState() bool { return false }

// Momentum is SGD with classical momentum.
type Momentum struct {
	LearningRate float64
	Mass         float64
}

// NewMomentum creates a momentum optimizer.
func NewMomentum(learningRate, mass float64) *Momentum {
	return &Momentum{LearningRate: learningRate, Mass: mass}
}

type momentumState struct {
	params   models.GradientStructure
	velocity models.GradientStructure
}

func (o *Momentum) Init(params models.GradientStructure) interfaces.OptimizerState {
	return momentumState{params: params.Clone(), velocity: params.ZerosLike()}
}

func (o *Momentum) GetParams(state interfaces.OptimizerState) models.GradientStructure {
	return state.(momentumState).params
}

func (o *Momentum) Update(grad models.GradientStructure, state interfaces.OptimizerState) (interfaces.OptimizerState, error) {
	s := state.(momentumState)
	velocity := s.velocity.Clone()
	for i := range velocity {
		floats.Scale(o.Mass, velocity[i].Values.Data)
		floats.Add(velocity[i].Values.Data, grad[i].Values.Data)
	}
	return momentumState{
		params:   axpy(s.params, velocity, -o.LearningRate),
		velocity: velocity,
	}, nil
}

func (o *Momentum) HasMutableState() bool { return false }
