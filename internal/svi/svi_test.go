package svi

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpsvi/pkg/errors"
	"github.com/inferloop/dpsvi/pkg/interfaces"
	"github.com/inferloop/dpsvi/pkg/models"
	"github.com/inferloop/dpsvi/pkg/optim"
	"github.com/inferloop/dpsvi/pkg/rng"
)

// scalarModel is a loss evaluator with a single scalar parameter "theta"
// whose per-example gradient is the example value times the observation
// scale. It makes every pipeline stage checkable by hand.
type scalarModel struct {
	scale  float64
	scales []float64
}

func newScalarModel(scale float64) *scalarModel {
	return &scalarModel{scale: scale, scales: []float64{scale}}
}

func (m *scalarModel) Loss(params models.GradientStructure, key rng.Key, example models.Batch) (float64, error) {
	return example[0].Data[0], nil
}

func (m *scalarModel) LossGradient(params models.GradientStructure, key rng.Key, example models.Batch) (float64, models.GradientStructure, error) {
	v := example[0].Data[0]
	if math.IsNaN(v) {
		return 0, nil, errors.NewNumericalError(errors.CodeDegenerateGradient, "example value is NaN")
	}
	grad := models.GradientStructure{
		{Name: "theta", Values: models.Scalar(m.scale * v)},
	}
	return v, grad, nil
}

func (m *scalarModel) ObservationScales(params models.GradientStructure, example models.Batch) []float64 {
	return m.scales
}

func scalarParams() models.GradientStructure {
	return models.GradientStructure{{Name: "theta", Values: models.Zeros(1)}}
}

func scalarBatch(values ...float64) models.Batch {
	return models.Batch{models.Tensor{Shape: []int{len(values), 1}, Data: values}}
}

func newTestEngine(t *testing.T, model *scalarModel, cfg Config) (*DPSVI, State) {
	t.Helper()
	suite := rng.NewSecureSuite()

	engine, err := New(model, optim.NewSGD(1), cfg, suite, nil)
	require.NoError(t, err)

	state, err := engine.Init(suite.Seed(0), scalarParams(), scalarBatch(1))
	require.NoError(t, err)
	return engine, state
}

func theta(engine *DPSVI, state State) float64 {
	return engine.GetParams(state)[0].Values.Data[0]
}

func TestUpdateClippedSymmetricGradientsCancel(t *testing.T) {
	// Per-example gradients 10, -10, 5, -5 all exceed C=1 and clip to
	// 1, -1, 1, -1; their mean is exactly zero, and with dp_scale 0 the
	// parameter must not move at all.
	engine, state := newTestEngine(t, newScalarModel(1), Config{
		ClippingThreshold: 1,
		DPScale:           0,
	})

	next, loss, err := engine.Update(context.Background(), state, scalarBatch(10, -10, 5, -5))
	require.NoError(t, err)

	assert.Zero(t, loss, "batch loss is the exact mean of the per-example losses")
	assert.Zero(t, theta(engine, next))
}

func TestUpdateBoundsSingleExampleInfluence(t *testing.T) {
	engine, state := newTestEngine(t, newScalarModel(1), Config{
		ClippingThreshold: 1,
		DPScale:           0,
	})

	// One enormous outlier among small gradients moves the parameter by at
	// most C/batchSize under SGD with lr 1.
	next, _, err := engine.Update(context.Background(), state, scalarBatch(1e9, 0.1, -0.1, 0.2))
	require.NoError(t, err)

	assert.LessOrEqual(t, math.Abs(theta(engine, next)), 1.0/4+0.2)
	assert.InDelta(t, -(1+0.1-0.1+0.2)/4, theta(engine, next), 1e-12)
}

func TestUpdateWithinBoundGradientsPassThrough(t *testing.T) {
	engine, state := newTestEngine(t, newScalarModel(1), Config{
		ClippingThreshold: 10,
		DPScale:           0,
	})

	next, loss, err := engine.Update(context.Background(), state, scalarBatch(1, 2, 3))
	require.NoError(t, err)

	assert.Equal(t, 2.0, loss)
	assert.Equal(t, -2.0, theta(engine, next), "unclipped mean gradient applies exactly")
}

func TestUpdateUndoesAndRedoesObservationScale(t *testing.T) {
	// The model scales gradients by 2; the threshold must bound the
	// unscaled magnitude, and the scale is restored after noising.
	engine, state := newTestEngine(t, newScalarModel(2), Config{
		ClippingThreshold: 1,
		DPScale:           0,
	})
	require.Equal(t, 2.0, state.ObservationScale())

	// Raw gradient 2*4=8, unscaled norm 4 clips to 1, rescaled to 2.
	next, _, err := engine.Update(context.Background(), state, scalarBatch(4))
	require.NoError(t, err)
	assert.InDelta(t, -2.0, theta(engine, next), 1e-12)

	// Unscaled norm 0.25 is within the bound and passes through scaled.
	_, state = newTestEngine(t, newScalarModel(2), Config{ClippingThreshold: 1, DPScale: 0})
	next, _, err = engine.Update(context.Background(), state, scalarBatch(0.25))
	require.NoError(t, err)
	assert.InDelta(t, -0.5, theta(engine, next), 1e-12)
}

func TestUpdateIsDeterministic(t *testing.T) {
	cfg := Config{ClippingThreshold: 1, DPScale: 2}
	model := newScalarModel(1)

	engineA, stateA := newTestEngine(t, model, cfg)
	engineB, stateB := newTestEngine(t, model, cfg)
	batch := scalarBatch(1, -2, 3, -4)

	nextA, lossA, err := engineA.Update(context.Background(), stateA, batch)
	require.NoError(t, err)
	nextB, lossB, err := engineB.Update(context.Background(), stateB, batch)
	require.NoError(t, err)

	assert.Equal(t, lossA, lossB)
	assert.Equal(t, theta(engineA, nextA), theta(engineB, nextB), "identical keys give bit-identical steps")
	assert.Equal(t, nextA.RNGKey(), nextB.RNGKey())
}

func TestUpdateAdvancesRNGKey(t *testing.T) {
	engine, state := newTestEngine(t, newScalarModel(1), Config{ClippingThreshold: 1, DPScale: 2})
	batch := scalarBatch(1, 2)

	next, _, err := engine.Update(context.Background(), state, batch)
	require.NoError(t, err)
	assert.NotEqual(t, state.RNGKey(), next.RNGKey())

	// Two consecutive steps on the same data produce different noise.
	after1 := theta(engine, next)
	next2, _, err := engine.Update(context.Background(), next, batch)
	require.NoError(t, err)
	assert.NotEqual(t, after1, theta(engine, next2)-after1)
}

func TestUpdateNoiseMagnitude(t *testing.T) {
	// With a huge dp_scale the noise dominates; with dp_scale 0 the result
	// is exact. Checks the noise actually enters at dp_scale * C / n.
	model := newScalarModel(1)
	batch := scalarBatch(0, 0, 0, 0)

	engine, state := newTestEngine(t, model, Config{ClippingThreshold: 1, DPScale: 0})
	next, _, err := engine.Update(context.Background(), state, batch)
	require.NoError(t, err)
	assert.Zero(t, theta(engine, next))

	engine, state = newTestEngine(t, model, Config{ClippingThreshold: 1, DPScale: 1000})
	next, _, err = engine.Update(context.Background(), state, batch)
	require.NoError(t, err)
	assert.NotZero(t, theta(engine, next))
}

func TestUpdateFailureLeavesStateUsable(t *testing.T) {
	engine, state := newTestEngine(t, newScalarModel(1), Config{ClippingThreshold: 1, DPScale: 0})

	bad := scalarBatch(1, math.NaN(), 3)
	zero, _, err := engine.Update(context.Background(), state, bad)
	require.Error(t, err)
	assert.True(t, errors.IsNumerical(err))
	assert.Equal(t, State{}, zero, "failed step returns the zero state")

	// The caller's pre-step state is still valid.
	next, loss, err := engine.Update(context.Background(), state, scalarBatch(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, loss)
	assert.Equal(t, -1.0, theta(engine, next))
}

func TestUpdateRejectsEmptyBatch(t *testing.T) {
	engine, state := newTestEngine(t, newScalarModel(1), Config{ClippingThreshold: 1, DPScale: 0})

	_, _, err := engine.Update(context.Background(), state, models.Batch{})
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestPreClippingNoiseChangesClippingOutcome(t *testing.T) {
	cfg := Config{ClippingThreshold: 1, DPScale: 0}
	noisy := Config{ClippingThreshold: 1, DPScale: 0, PreClippingNoiseScale: 0.5}
	model := newScalarModel(1)
	batch := scalarBatch(0.1, -0.1)

	engineA, stateA := newTestEngine(t, model, cfg)
	nextA, _, err := engineA.Update(context.Background(), stateA, batch)
	require.NoError(t, err)

	engineB, stateB := newTestEngine(t, model, noisy)
	nextB, _, err := engineB.Update(context.Background(), stateB, batch)
	require.NoError(t, err)

	// Without pre-clipping noise the clipped gradients cancel exactly;
	// with it they almost surely do not.
	assert.Zero(t, theta(engineA, nextA))
	assert.NotZero(t, theta(engineB, nextB))
}

func TestInitRejectsMutableOptimizer(t *testing.T) {
	suite := rng.NewSecureSuite()
	engine, err := New(newScalarModel(1), mutableOptimizer{}, Config{ClippingThreshold: 1}, suite, nil)
	require.NoError(t, err)

	_, err = engine.Init(suite.Seed(0), scalarParams(), scalarBatch(1))
	assert.True(t, errors.IsUnsupportedState(err))
	assert.ErrorIs(t, err, errors.ErrMutableOptimizerState)
}

func TestInitRejectsInconsistentObservationScales(t *testing.T) {
	suite := rng.NewSecureSuite()
	model := &scalarModel{scale: 1, scales: []float64{1, 2}}

	engine, err := New(model, optim.NewSGD(1), Config{ClippingThreshold: 1}, suite, nil)
	require.NoError(t, err)

	_, err = engine.Init(suite.Seed(0), scalarParams(), scalarBatch(1))
	assert.True(t, errors.IsInvalidArgument(err))
	assert.ErrorIs(t, err, errors.ErrInconsistentScales)
}

func TestInitDefaultsObservationScaleToOne(t *testing.T) {
	suite := rng.NewSecureSuite()
	model := &scalarModel{scale: 1, scales: nil}

	engine, err := New(model, optim.NewSGD(1), Config{ClippingThreshold: 1}, suite, nil)
	require.NoError(t, err)

	state, err := engine.Init(suite.Seed(0), scalarParams(), scalarBatch(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, state.ObservationScale())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero threshold", Config{ClippingThreshold: 0}},
		{"negative threshold", Config{ClippingThreshold: -1}},
		{"NaN threshold", Config{ClippingThreshold: math.NaN()}},
		{"infinite threshold", Config{ClippingThreshold: math.Inf(1)}},
		{"negative dp scale", Config{ClippingThreshold: 1, DPScale: -1}},
		{"negative pre-clip scale", Config{ClippingThreshold: 1, PreClippingNoiseScale: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newScalarModel(1), optim.NewSGD(1), tt.cfg, nil, nil)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}

func TestEvaluate(t *testing.T) {
	engine, state := newTestEngine(t, newScalarModel(1), Config{ClippingThreshold: 1, DPScale: 2})
	batch := scalarBatch(1, 2, 3, 6)

	loss, err := engine.Evaluate(context.Background(), state, batch)
	require.NoError(t, err)
	assert.Equal(t, 3.0, loss)

	again, err := engine.Evaluate(context.Background(), state, batch)
	require.NoError(t, err)
	assert.Equal(t, loss, again, "evaluation does not consume the state key")
}

func TestGetEpsilonUsesConfiguredScale(t *testing.T) {
	engine, _ := newTestEngine(t, newScalarModel(1), Config{ClippingThreshold: 1, DPScale: 2})

	eps, err := engine.GetEpsilon(1e-5, 0.01, 0, 100)
	require.NoError(t, err)
	assert.Greater(t, eps, 0.0)

	delta, err := engine.GetDelta(eps, 0.01, 0, 100)
	require.NoError(t, err)
	assert.InDelta(t, 1e-5, delta, 1e-9)
}

// mutableOptimizer simulates an optimizer keeping state outside the threaded
// value.
type mutableOptimizer struct{}

func (mutableOptimizer) Init(params models.GradientStructure) interfaces.OptimizerState { return nil }
func (mutableOptimizer) GetParams(state interfaces.OptimizerState) models.GradientStructure {
	return nil
}
func (mutableOptimizer) Update(gradient models.GradientStructure, state interfaces.OptimizerState) (interfaces.OptimizerState, error) {
	return nil, nil
}
func (mutableOptimizer) HasMutableState() bool { return true }
