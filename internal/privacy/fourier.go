// Package privacy implements the privacy accountants that convert the noise
// and subsampling parameters of the gradient pipeline into formal
// (epsilon, delta) differential privacy guarantees.
//
// The primary accountant follows the Fourier accountant of Koskela, Jälkö
// and Honkela (https://arxiv.org/abs/1906.03049): the privacy loss
// distribution of one subsampled Gaussian mechanism release is discretised
// on a truncated grid, composed over the iteration count by raising its
// discrete Fourier transform to a pointwise power, and integrated to obtain
// delta at a given epsilon (or solved for epsilon by Newton iteration).
package privacy

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/inferloop/dpsvi/pkg/errors"
)

// AccountantParams controls the discretisation of the privacy loss
// distribution.
type AccountantParams struct {
	// NumPoints is the number of grid points. A power of two keeps the FFT
	// on its fast path.
	NumPoints int

	// Truncation is the half-width L of the grid [-L, L). Epsilon values
	// outside (-L, L) cannot be represented; widen L if the accountant
	// reports divergence.
	Truncation float64
}

// DefaultAccountantParams returns the grid used when no override is given.
func DefaultAccountantParams() AccountantParams {
	return AccountantParams{NumPoints: 1 << 20, Truncation: 20.0}
}

const (
	newtonTolerance = 1e-10
	newtonMaxIter   = 1000
)

// GetEpsilon computes the epsilon for which the composition of numIter
// subsampled Gaussian releases with noise multiplier dpScale and sampling
// ratio q satisfies (epsilon, targetDelta)-DP. numIter may be fractional
// (derived from an epoch count).
func GetEpsilon(targetDelta, dpScale, q, numIter float64, params AccountantParams) (float64, error) {
	if targetDelta <= 0 || targetDelta >= 1 {
		return 0, errors.NewInvalidArgumentError(errors.CodeInvalidNoiseScale,
			"target delta must lie strictly between 0 and 1")
	}
	cfx, dx, err := composedPLD(dpScale, q, numIter, params)
	if err != nil {
		return 0, err
	}

	L := params.Truncation
	eps := 0.0
	for iter := 0; iter < newtonMaxIter; iter++ {
		delta, derivative := deltaIntegral(eps, cfx, dx, L)
		if math.Abs(delta-targetDelta) <= newtonTolerance {
			return eps, nil
		}
		if derivative == 0 || math.IsNaN(derivative) {
			return 0, errors.WrapError(errors.ErrAccountantDiverged,
				errors.ErrorTypeNumerical, errors.CodeAccountantDiverged,
				"Newton iteration stalled; increase the truncation parameter L")
		}
		eps -= (delta - targetDelta) / derivative
		if eps <= -L || eps >= L {
			return 0, errors.WrapError(errors.ErrAccountantDiverged,
				errors.ErrorTypeNumerical, errors.CodeAccountantDiverged,
				"epsilon left the discretisation domain; increase the truncation parameter L")
		}
	}
	return 0, errors.WrapError(errors.ErrAccountantDiverged,
		errors.ErrorTypeNumerical, errors.CodeAccountantDiverged,
		"Newton iteration did not converge")
}

// GetDelta computes the delta for which the composition of numIter
// subsampled Gaussian releases with noise multiplier dpScale and sampling
// ratio q satisfies (targetEpsilon, delta)-DP.
func GetDelta(targetEpsilon, dpScale, q, numIter float64, params AccountantParams) (float64, error) {
	if math.Abs(targetEpsilon) >= params.Truncation {
		return 0, errors.WrapError(errors.ErrAccountantDiverged,
			errors.ErrorTypeNumerical, errors.CodeAccountantDiverged,
			"target epsilon lies outside the discretisation domain; increase the truncation parameter L")
	}
	cfx, dx, err := composedPLD(dpScale, q, numIter, params)
	if err != nil {
		return 0, err
	}
	delta, _ := deltaIntegral(targetEpsilon, cfx, dx, params.Truncation)
	return delta, nil
}

// ResolveIterationCount derives the iteration count for the accountant.
// numEpochs takes precedence and is converted via numEpochs/q; if neither is
// supplied the call fails with an invalid argument error.
func ResolveIterationCount(numEpochs, numIter, q float64) (float64, error) {
	if numEpochs > 0 {
		return numEpochs / q, nil
	}
	if numIter > 0 {
		return numIter, nil
	}
	return 0, errors.WrapError(errors.ErrMissingIterationCount,
		errors.ErrorTypeInvalidArgument, errors.CodeMissingIterations,
		"a value must be supplied for either num_iter or num_epochs")
}

func validateMechanism(sigma, q, ncomp float64) error {
	if sigma <= 0 {
		return errors.WrapError(errors.ErrInvalidNoiseScale,
			errors.ErrorTypeInvalidArgument, errors.CodeInvalidNoiseScale,
			"noise multiplier must be positive for accounting")
	}
	if q <= 0 || q > 1 {
		return errors.WrapError(errors.ErrInvalidSamplingRatio,
			errors.ErrorTypeInvalidArgument, errors.CodeInvalidSamplingRatio,
			"sampling ratio must lie in (0, 1]")
	}
	if ncomp <= 0 {
		return errors.WrapError(errors.ErrMissingIterationCount,
			errors.ErrorTypeInvalidArgument, errors.CodeMissingIterations,
			"iteration count must be positive")
	}
	return nil
}

// composedPLD returns the density of the ncomp-fold composed privacy loss
// distribution on the grid x_j = -L + j*dx, under the remove/add
// neighbouring relation.
func composedPLD(sigma, q, ncomp float64, params AccountantParams) ([]float64, float64, error) {
	if err := validateMechanism(sigma, q, ncomp); err != nil {
		return nil, 0, err
	}

	nx := params.NumPoints
	L := params.Truncation
	dx := 2 * L / float64(nx)

	// The privacy loss L(t) of the subsampled Gaussian only takes values
	// above log(1-q); the density is zero below that.
	start := 0
	if q < 1 {
		start = int(math.Floor(float64(nx)*(L+math.Log(1-q))/(2*L))) + 1
		if start < 0 {
			start = 0
		}
	}

	fx := make([]float64, nx)
	sigma2 := sigma * sigma
	norm := 1 / math.Sqrt(2*math.Pi*sigma2)
	for j := start; j < nx; j++ {
		x := -L + float64(j)*dx
		ex := math.Exp(x)
		denom := ex - (1 - q)
		if denom <= 0 {
			continue
		}
		linv := sigma2*math.Log(denom/q) + 0.5
		a := norm * ((1-q)*math.Exp(-linv*linv/(2*sigma2)) +
			q*math.Exp(-(linv-1)*(linv-1)/(2*sigma2)))
		dlinv := sigma2 * ex / denom
		fx[j] = a * dlinv
	}

	// Periodic shift so the grid origin sits at index 0 for the DFT.
	swapHalves(fx)

	seq := make([]complex128, nx)
	for j, v := range fx {
		seq[j] = complex(v*dx, 0)
	}

	fft := fourier.NewCmplxFFT(nx)
	coeff := fft.Coefficients(nil, seq)

	// Composition of independent releases is convolution of their PLDs,
	// i.e. a pointwise power in the Fourier domain.
	exponent := complex(ncomp, 0)
	for j := range coeff {
		coeff[j] = cmplx.Pow(coeff[j], exponent)
	}

	composed := fft.Sequence(nil, coeff)
	cfx := make([]float64, nx)
	scale := 1 / (float64(nx) * dx)
	for j := range composed {
		cfx[j] = real(composed[j]) * scale
	}
	swapHalves(cfx)

	return cfx, dx, nil
}

// deltaIntegral evaluates delta(eps) = ∫_eps^L (1 - e^{eps-x}) f(x) dx over
// the composed PLD density along with its derivative with respect to eps.
func deltaIntegral(eps float64, cfx []float64, dx, L float64) (delta, derivative float64) {
	nx := len(cfx)
	start := int(math.Ceil(float64(nx)*(L+eps)/(2*L))) + 1
	if start < 0 {
		start = 0
	}
	for j := start; j < nx; j++ {
		x := -L + float64(j)*dx
		e := math.Exp(eps - x)
		delta += (1 - e) * cfx[j]
		derivative -= e * cfx[j]
	}
	delta *= dx
	derivative *= dx
	return delta, derivative
}

func swapHalves(v []float64) {
	half := len(v) / 2
	for j := 0; j < half; j++ {
		v[j], v[half+j] = v[half+j], v[j]
	}
}
