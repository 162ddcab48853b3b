package privacy

import (
	"math"

	"github.com/inferloop/dpsvi/pkg/errors"
)

// Renyi differential privacy accountant for the subsampled Gaussian
// mechanism (Mironov et al., https://arxiv.org/abs/1908.10530). Looser than
// the Fourier accountant but cheap to evaluate; used as a cross-check and as
// an alternative method in the CLI.

// DefaultRDPOrders returns the standard grid of Renyi orders. Orders below 2
// are omitted: the interpolation in fracOrderRDP needs integer neighbours
// strictly greater than 1.
func DefaultRDPOrders() []float64 {
	return []float64{
		2, 2.5, 3, 3.5, 4, 5, 6, 8, 10,
		12, 16, 20, 24, 28, 32, 48, 64, 128, 256,
	}
}

// ComputeRDP returns the Renyi divergence bound accumulated over steps
// applications of the subsampled Gaussian mechanism, one value per order.
func ComputeRDP(q, sigma, steps float64, orders []float64) ([]float64, error) {
	if err := validateMechanism(sigma, q, steps); err != nil {
		return nil, err
	}
	out := make([]float64, len(orders))
	for i, alpha := range orders {
		out[i] = singleStepRDP(q, sigma, alpha) * steps
	}
	return out, nil
}

// RDPToDP converts accumulated RDP values to an (epsilon, delta) guarantee,
// optimizing over the orders. Returns the epsilon and the order at which it
// was attained.
func RDPToDP(orders, rdp []float64, delta float64) (eps, optOrder float64) {
	eps = math.Inf(1)
	for i, alpha := range orders {
		if alpha <= 1 {
			continue
		}
		candidate := rdp[i] + math.Log(1/delta)/(alpha-1)
		if candidate < eps {
			eps = candidate
			optOrder = alpha
		}
	}
	return eps, optOrder
}

// RDPEpsilon is a convenience wrapper computing epsilon for targetDelta over
// the default order grid.
func RDPEpsilon(targetDelta, dpScale, q, numIter float64) (float64, error) {
	if targetDelta <= 0 || targetDelta >= 1 {
		return 0, errors.NewInvalidArgumentError(errors.CodeInvalidNoiseScale,
			"target delta must lie strictly between 0 and 1")
	}
	orders := DefaultRDPOrders()
	rdp, err := ComputeRDP(q, dpScale, numIter, orders)
	if err != nil {
		return 0, err
	}
	eps, _ := RDPToDP(orders, rdp, targetDelta)
	return eps, nil
}

func singleStepRDP(q, sigma, alpha float64) float64 {
	if q == 0 || sigma == 0 {
		return 0
	}
	if q == 1 {
		return alpha / (2 * sigma * sigma)
	}
	if math.IsInf(alpha, 1) {
		return math.Inf(1)
	}
	if alpha == math.Trunc(alpha) {
		return intOrderRDP(q, sigma, int(alpha))
	}
	return fracOrderRDP(q, sigma, alpha)
}

// intOrderRDP evaluates the integer-order bound via the binomial expansion,
// accumulated in log space to avoid overflow.
func intOrderRDP(q, sigma float64, alpha int) float64 {
	logSum := math.Inf(-1)
	for i := 0; i <= alpha; i++ {
		term := math.Log(binomialCoefficient(alpha, i)) +
			float64(i)*math.Log(q) +
			float64(alpha-i)*math.Log(1-q) +
			float64(i*i-i)/(2*sigma*sigma)
		logSum = logAddExp(logSum, term)
	}
	return logSum / float64(alpha-1)
}

// fracOrderRDP interpolates linearly between the neighbouring integer
// orders.
func fracOrderRDP(q, sigma, alpha float64) float64 {
	lower := math.Floor(alpha)
	upper := math.Ceil(alpha)
	if lower == upper {
		return intOrderRDP(q, sigma, int(alpha))
	}
	lowerRDP := intOrderRDP(q, sigma, int(lower))
	upperRDP := intOrderRDP(q, sigma, int(upper))
	frac := alpha - lower
	return lowerRDP*(1-frac) + upperRDP*frac
}

func binomialCoefficient(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	if k == 0 || k == n {
		return 1
	}
	if k > n-k {
		k = n - k
	}
	c := 1.0
	for i := 0; i < k; i++ {
		c = c * float64(n-i) / float64(i+1)
	}
	return c
}

// logAddExp computes log(exp(a) + exp(b)) without overflow.
func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	max, min := a, b
	if b > a {
		max, min = b, a
	}
	return max + math.Log1p(math.Exp(min-max))
}
