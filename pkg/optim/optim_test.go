package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpsvi/pkg/models"
)

func testParams() models.GradientStructure {
	return models.GradientStructure{
		{Name: "weights", Values: models.Tensor{Shape: []int{2}, Data: []float64{1, 2}}},
		{Name: "bias", Values: models.Tensor{Shape: []int{1}, Data: []float64{0.5}}},
	}
}

func testGrad(w0, w1, b float64) models.GradientStructure {
	return models.GradientStructure{
		{Name: "weights", Values: models.Tensor{Shape: []int{2}, Data: []float64{w0, w1}}},
		{Name: "bias", Values: models.Tensor{Shape: []int{1}, Data: []float64{b}}},
	}
}

func TestSGDUpdate(t *testing.T) {
	o := NewSGD(0.1)
	state := o.Init(testParams())

	next, err := o.Update(testGrad(1, -1, 2), state)
	require.NoError(t, err)

	params := o.GetParams(next)
	assert.InDelta(t, 0.9, params[0].Values.Data[0], 1e-12)
	assert.InDelta(t, 2.1, params[0].Values.Data[1], 1e-12)
	assert.InDelta(t, 0.3, params[1].Values.Data[0], 1e-12)
}

func TestSGDDoesNotMutateInputState(t *testing.T) {
	o := NewSGD(0.1)
	state := o.Init(testParams())

	_, err := o.Update(testGrad(1, 1, 1), state)
	require.NoError(t, err)

	params := o.GetParams(state)
	assert.Equal(t, []float64{1, 2}, params[0].Values.Data)
	assert.Equal(t, []float64{0.5}, params[1].Values.Data)
}

func TestSGDInitClonesParams(t *testing.T) {
	o := NewSGD(0.1)
	initial := testParams()
	state := o.Init(initial)

	initial[0].Values.Data[0] = 99
	assert.Equal(t, 1.0, o.GetParams(state)[0].Values.Data[0])
}

func TestMomentumUpdate(t *testing.T) {
	o := NewMomentum(0.1, 0.9)
	state := o.Init(testParams())

	// First step: velocity = grad, params -= lr * velocity.
	state, err := o.Update(testGrad(1, 0, 0), state)
	require.NoError(t, err)
	params := o.GetParams(state)
	assert.InDelta(t, 0.9, params[0].Values.Data[0], 1e-12)

	// Second step with zero gradient: velocity decays, movement continues.
	state, err = o.Update(testGrad(0, 0, 0), state)
	require.NoError(t, err)
	params = o.GetParams(state)
	assert.InDelta(t, 0.81, params[0].Values.Data[0], 1e-12)
}

func TestOptimizersReportThreadedState(t *testing.T) {
	assert.False(t, NewSGD(0.1).HasMutableState())
	assert.False(t, NewMomentum(0.1, 0.9).HasMutableState())
	assert.False(t, NewAdam(0.1).HasMutableState())
	assert.False(t, NewADADP(0.1, 1).HasMutableState())
}
