package privacy

import (
	"github.com/sirupsen/logrus"
)

// Accountant wraps the pure accounting functions with a fixed discretisation
// and structured logging. It holds no privacy state: every query is a pure
// function of its inputs.
type Accountant struct {
	logger *logrus.Logger
	params AccountantParams
}

// NewAccountant creates an accountant. A nil params pointer selects the
// default discretisation; a nil logger gets a default.
func NewAccountant(params *AccountantParams, logger *logrus.Logger) *Accountant {
	if logger == nil {
		logger = logrus.New()
	}
	p := DefaultAccountantParams()
	if params != nil {
		p = *params
	}
	return &Accountant{logger: logger, params: p}
}

// Epsilon reports the epsilon of a training plan at targetDelta. Exactly one
// of numEpochs and numIter must be positive.
func (a *Accountant) Epsilon(targetDelta, dpScale, samplingRatio, numEpochs, numIter float64) (float64, error) {
	iterations, err := ResolveIterationCount(numEpochs, numIter, samplingRatio)
	if err != nil {
		return 0, err
	}

	eps, err := GetEpsilon(targetDelta, dpScale, samplingRatio, iterations, a.params)
	if err != nil {
		return 0, err
	}

	a.logger.WithFields(logrus.Fields{
		"target_delta":   targetDelta,
		"dp_scale":       dpScale,
		"sampling_ratio": samplingRatio,
		"iterations":     iterations,
		"epsilon":        eps,
	}).Debug("privacy accountant query")

	return eps, nil
}

// Delta reports the delta of a training plan at targetEpsilon. Exactly one
// of numEpochs and numIter must be positive.
func (a *Accountant) Delta(targetEpsilon, dpScale, samplingRatio, numEpochs, numIter float64) (float64, error) {
	iterations, err := ResolveIterationCount(numEpochs, numIter, samplingRatio)
	if err != nil {
		return 0, err
	}

	delta, err := GetDelta(targetEpsilon, dpScale, samplingRatio, iterations, a.params)
	if err != nil {
		return 0, err
	}

	a.logger.WithFields(logrus.Fields{
		"target_epsilon": targetEpsilon,
		"dp_scale":       dpScale,
		"sampling_ratio": samplingRatio,
		"iterations":     iterations,
		"delta":          delta,
	}).Debug("privacy accountant query")

	return delta, nil
}
