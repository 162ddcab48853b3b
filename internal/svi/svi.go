// Package svi implements differentially private stochastic variational
// inference: a per-example gradient privatization pipeline that bounds each
// training example's influence through clipping and adds calibrated Gaussian
// noise before the optimizer consumes the batch gradient.
package svi

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/dpsvi/internal/gradient"
	"github.com/inferloop/dpsvi/internal/privacy"
	"github.com/inferloop/dpsvi/pkg/errors"
	"github.com/inferloop/dpsvi/pkg/interfaces"
	"github.com/inferloop/dpsvi/pkg/models"
	"github.com/inferloop/dpsvi/pkg/rng"
)

// Config holds the privacy parameters of a training run. They are fixed at
// construction; changing them mid-run would invalidate all prior epsilon
// accounting.
type Config struct {
	// ClippingThreshold is the bound C on the norm of each per-example
	// gradient. Must be positive and finite.
	ClippingThreshold float64

	// DPScale is the noise multiplier: the batch gradient is perturbed
	// with Gaussian noise of standard deviation
	// DPScale * ClippingThreshold / batchSize.
	DPScale float64

	// PreClippingNoiseScale, when positive, adds Gaussian noise to every
	// per-example gradient before clipping to mitigate clipping-induced
	// bias. Orthogonal to the final DP noise; zero disables it.
	PreClippingNoiseScale float64
}

func (c Config) validate() error {
	if math.IsNaN(c.ClippingThreshold) || math.IsInf(c.ClippingThreshold, 0) {
		return errors.WrapError(errors.ErrNonFiniteThreshold,
			errors.ErrorTypeInvalidArgument, errors.CodeNonFiniteThreshold,
			"clipping_threshold must be finite")
	}
	if c.ClippingThreshold <= 0 {
		return errors.WrapError(errors.ErrInvalidClippingThreshold,
			errors.ErrorTypeInvalidArgument, errors.CodeNonPositiveThreshold,
			"clipping_threshold must be greater than 0")
	}
	if c.DPScale < 0 || math.IsNaN(c.DPScale) {
		return errors.WrapError(errors.ErrInvalidNoiseScale,
			errors.ErrorTypeInvalidArgument, errors.CodeInvalidNoiseScale,
			"dp_scale must be non-negative")
	}
	if c.PreClippingNoiseScale < 0 || math.IsNaN(c.PreClippingNoiseScale) {
		return errors.WrapError(errors.ErrInvalidNoiseScale,
			errors.ErrorTypeInvalidArgument, errors.CodeInvalidNoiseScale,
			"pre_clipping_noise_scale must be non-negative")
	}
	return nil
}

// DPSVI orchestrates one privatized training step: per-example gradients,
// optional pre-clipping perturbation, per-example clipping, mean
// aggregation, batch-level Gaussian noise and the optimizer update.
type DPSVI struct {
	loss       interfaces.LossEvaluator
	optim      interfaces.Optimizer
	cfg        Config
	suite      rng.Suite
	logger     *logrus.Logger
	accountant *privacy.Accountant
}

// New creates a DPSVI engine. A nil suite selects the secure randomness
// suite; a nil logger gets a default.
func New(loss interfaces.LossEvaluator, optim interfaces.Optimizer, cfg Config, suite rng.Suite, logger *logrus.Logger) (*DPSVI, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	if suite == nil {
		suite = rng.NewSecureSuite()
	}

	logger.WithFields(logrus.Fields{
		"clipping_threshold":       cfg.ClippingThreshold,
		"dp_scale":                 cfg.DPScale,
		"pre_clipping_noise_scale": cfg.PreClippingNoiseScale,
		"rng_suite":                suite.Name(),
	}).Info("DPSVI engine created")

	return &DPSVI{
		loss:       loss,
		optim:      optim,
		cfg:        cfg,
		suite:      suite,
		logger:     logger,
		accountant: privacy.NewAccountant(nil, logger),
	}, nil
}

// Init creates the initial training state for the given parameters.
//
// The optimizer is rejected here, not silently later, if it reports hidden
// mutable state; threaded optimizer state is a prerequisite for the
// pipeline's reproducibility and accounting assumptions. The model is probed
// once for its observation scale, which is cached in the state.
func (d *DPSVI) Init(key rng.Key, params models.GradientStructure, batch models.Batch) (State, error) {
	if d.optim.HasMutableState() {
		return State{}, errors.WrapError(errors.ErrMutableOptimizerState,
			errors.ErrorTypeUnsupportedState, errors.CodeMutableOptimizerState,
			"the pipeline requires purely functional, state-threaded optimizer state")
	}

	if _, err := batch.NumExamples(); err != nil {
		return State{}, err
	}

	scale, err := d.probeObservationScale(params, batch)
	if err != nil {
		return State{}, err
	}

	optState := d.optim.Init(params)

	d.logger.WithFields(logrus.Fields{
		"observation_scale": scale,
		"num_sites":         len(params),
	}).Info("DPSVI state initialized")

	return State{optState: optState, rngKey: key, observationScale: scale}, nil
}

// probeObservationScale asks the model for the scales applied to its
// observation sites. More than one distinct scale indicates a model shape
// the pipeline cannot compensate for.
func (d *DPSVI) probeObservationScale(params models.GradientStructure, batch models.Batch) (float64, error) {
	scales := d.loss.ObservationScales(params, batch.Example(0))
	distinct := make([]float64, 0, 1)
	for _, s := range scales {
		seen := false
		for _, u := range distinct {
			if u == s {
				seen = true
				break
			}
		}
		if !seen {
			distinct = append(distinct, s)
		}
	}

	switch len(distinct) {
	case 0:
		return 1, nil
	case 1:
		return distinct[0], nil
	default:
		return 0, errors.WrapError(errors.ErrInconsistentScales,
			errors.ErrorTypeInvalidArgument, errors.CodeInconsistentScales,
			"the model reported several observation sites with different scales; this is not supported")
	}
}

// Update performs one full training step and returns the successor state
// together with the batch loss. The step is all-or-nothing: on any error the
// returned state is the zero value and the caller's pre-step state remains
// valid.
func (d *DPSVI) Update(ctx context.Context, state State, batch models.Batch) (State, float64, error) {
	batchSize, err := batch.NumExamples()
	if err != nil {
		return State{}, 0, err
	}

	// One fresh substate per logical stage, plus the successor state key.
	// The retained key is never handed to any stage, so no substate can be
	// consumed twice.
	keys := d.suite.Split(state.rngKey, 4)
	retainedKey, gradientKey, perturbationKey, preClippingKey := keys[0], keys[1], keys[2], keys[3]

	perExampleLoss, pxGrads, err := d.computePerExampleGradients(ctx, state, gradientKey, batch, batchSize)
	if err != nil {
		return State{}, 0, err
	}

	if err := d.clipGradients(ctx, state, preClippingKey, pxGrads); err != nil {
		return State{}, 0, err
	}

	lossVal, batchParts := d.combineGradients(pxGrads, perExampleLoss)

	batchGrads, err := d.perturbAndReassemble(state, perturbationKey, batchParts, batchSize, pxGrads.Def())
	if err != nil {
		return State{}, 0, err
	}

	newOptState, err := d.optim.Update(batchGrads, state.optState)
	if err != nil {
		return State{}, 0, err
	}

	d.logger.WithFields(logrus.Fields{
		"batch_size": batchSize,
		"loss":       lossVal,
	}).Debug("DPSVI step complete")

	newState := state.withRNGKey(retainedKey).withOptimizerState(newOptState)
	return newState, lossVal, nil
}

// computePerExampleGradients evaluates loss and gradient once per example,
// with one independent randomness key per example in fixed index order. Each
// example is presented to the loss evaluator as a batch of size one.
func (d *DPSVI) computePerExampleGradients(ctx context.Context, state State, key rng.Key, batch models.Batch, batchSize int) ([]float64, models.PerExampleGradients, error) {
	params := d.optim.GetParams(state.optState)
	exampleKeys := d.suite.Split(key, batchSize)

	losses := make([]float64, batchSize)
	grads := make([]models.GradientStructure, batchSize)

	err := gradient.MapLeadingAxis(ctx, batchSize, func(i int) error {
		loss, grad, err := d.loss.LossGradient(params, exampleKeys[i], batch.Example(i))
		if err != nil {
			return err
		}
		losses[i] = loss
		grads[i] = grad
		return nil
	})
	if err != nil {
		return nil, models.PerExampleGradients{}, err
	}

	pxGrads, err := models.StackExamples(grads)
	if err != nil {
		return nil, models.PerExampleGradients{}, err
	}
	return losses, pxGrads, nil
}

// clipGradients optionally perturbs each per-example gradient before
// clipping, then clips each example independently. The loss scale applied by
// the model is undone before the threshold comparison so that C bounds the
// unscaled gradient magnitude.
func (d *DPSVI) clipGradients(ctx context.Context, state State, preClippingKey rng.Key, pxGrads models.PerExampleGradients) error {
	batchSize := pxGrads.BatchSize()

	if d.cfg.PreClippingNoiseScale > 0 {
		exampleKeys := d.suite.Split(preClippingKey, batchSize)
		err := gradient.MapLeadingAxis(ctx, batchSize, func(i int) error {
			perturbed := gradient.Perturb(d.suite, exampleKeys[i], pxGrads.ExampleParts(i), d.cfg.PreClippingNoiseScale)
			pxGrads.SetExampleParts(i, perturbed)
			return nil
		})
		if err != nil {
			return err
		}
	}

	rescale := 1 / state.observationScale
	return gradient.MapLeadingAxis(ctx, batchSize, func(i int) error {
		clipped, err := gradient.Clip(pxGrads.ExampleParts(i), d.cfg.ClippingThreshold, rescale)
		if err != nil {
			return err
		}
		pxGrads.SetExampleParts(i, clipped)
		return nil
	})
}

// combineGradients aggregates per-example gradients and losses into their
// batch values. The combiner is the arithmetic mean; the noise calibration
// in perturbAndReassemble depends on it.
func (d *DPSVI) combineGradients(pxGrads models.PerExampleGradients, perExampleLoss []float64) (float64, []models.Tensor) {
	return stat.Mean(perExampleLoss, nil), pxGrads.MeanOverExamples()
}

// perturbAndReassemble adds the calibrated Gaussian noise to the batch
// gradient, restores the model's loss scale and reassembles the gradient
// structure for the optimizer. The noise standard deviation is
// dp_scale * C / batch_size: the mean of clipped per-example gradients has
// sensitivity C / batch_size.
func (d *DPSVI) perturbAndReassemble(state State, key rng.Key, batchParts []models.Tensor, batchSize int, def models.StructureDef) (models.GradientStructure, error) {
	noiseScale := d.cfg.DPScale * d.cfg.ClippingThreshold / float64(batchSize)
	perturbed := gradient.Perturb(d.suite, key, batchParts, noiseScale)

	for i := range perturbed {
		perturbed[i] = perturbed[i].Scaled(state.observationScale)
	}

	return models.Unflatten(def, perturbed)
}

// Evaluate computes the mean per-example loss on a batch without advancing
// the training state. The evaluation key is derived by the same splitting
// convention as Update so that repeated evaluation of one state is
// reproducible.
func (d *DPSVI) Evaluate(ctx context.Context, state State, batch models.Batch) (float64, error) {
	batchSize, err := batch.NumExamples()
	if err != nil {
		return 0, err
	}

	evalKey := d.suite.Split(state.rngKey, 1)[0]
	exampleKeys := d.suite.Split(evalKey, batchSize)
	params := d.optim.GetParams(state.optState)

	losses := make([]float64, batchSize)
	err = gradient.MapLeadingAxis(ctx, batchSize, func(i int) error {
		loss, err := d.loss.Loss(params, exampleKeys[i], batch.Example(i))
		if err != nil {
			return err
		}
		losses[i] = loss
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stat.Mean(losses, nil), nil
}

// GetParams extracts the current parameter values from a training state.
func (d *DPSVI) GetParams(state State) models.GradientStructure {
	return d.optim.GetParams(state.optState)
}

// GetEpsilon reports the epsilon of the configured mechanism at targetDelta
// for a training plan of numEpochs epochs or numIter iterations (exactly one
// must be positive) at sampling ratio q.
func (d *DPSVI) GetEpsilon(targetDelta, q, numEpochs, numIter float64) (float64, error) {
	return d.accountant.Epsilon(targetDelta, d.cfg.DPScale, q, numEpochs, numIter)
}

// GetDelta reports the delta of the configured mechanism at targetEpsilon
// for a training plan of numEpochs epochs or numIter iterations (exactly one
// must be positive) at sampling ratio q.
func (d *DPSVI) GetDelta(targetEpsilon, q, numEpochs, numIter float64) (float64, error) {
	return d.accountant.Delta(targetEpsilon, d.cfg.DPScale, q, numEpochs, numIter)
}
