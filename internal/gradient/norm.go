// Package gradient implements the numeric core of the per-example gradient
// pipeline: whole-vector norms, per-example clipping, Gaussian perturbation
// and the data-parallel leading-axis combinator.
package gradient

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/inferloop/dpsvi/pkg/errors"
	"github.com/inferloop/dpsvi/pkg/models"
)

// FullNorm computes the p-norm over a list of tensors by treating them as a
// single concatenated vector. The empty list has norm 0.
//
// The clipping guarantee is about the overall per-example gradient, so the
// norm is always taken over the whole parameter vector, never per site.
func FullNorm(parts []models.Tensor, ord float64) float64 {
	if len(parts) == 0 {
		return 0
	}

	switch {
	case ord == 2:
		var sumSq float64
		for _, part := range parts {
			sumSq += floats.Dot(part.Data, part.Data)
		}
		return math.Sqrt(sumSq)
	case ord == 1:
		var sum float64
		for _, part := range parts {
			for _, v := range part.Data {
				sum += math.Abs(v)
			}
		}
		return sum
	case math.IsInf(ord, 1):
		var max float64
		for _, part := range parts {
			for _, v := range part.Data {
				if a := math.Abs(v); a > max {
					max = a
				}
			}
		}
		return max
	default:
		var sum float64
		for _, part := range parts {
			for _, v := range part.Data {
				sum += math.Pow(math.Abs(v), ord)
			}
		}
		return math.Pow(sum, 1/ord)
	}
}

// Clip rescales the gradient parts so that the norm of the result is at most
// c. The gradient is first scaled by rescaleFactor, then every element is
// multiplied by 1/max(1, norm/c). A gradient already within the bound after
// rescaling passes through unchanged apart from the rescale.
func Clip(parts []models.Tensor, c, rescaleFactor float64) ([]models.Tensor, error) {
	if c <= 0 {
		return nil, errors.WrapError(errors.ErrInvalidClippingThreshold,
			errors.ErrorTypeInvalidArgument, errors.CodeNonPositiveThreshold,
			"the clipping threshold must be greater than 0")
	}

	norm := FullNorm(parts, 2) * rescaleFactor
	normalization := 1.0
	if norm > c {
		normalization = c / norm
	}
	f := rescaleFactor * normalization

	out := make([]models.Tensor, len(parts))
	for i, part := range parts {
		out[i] = part.Scaled(f)
	}
	return out, nil
}

// Normalize divides the gradient parts by their full norm. Zero-norm
// gradients cannot be normalized and yield a numerical degeneracy error.
// Diagnostics only, not on the training hot path.
func Normalize(parts []models.Tensor, ord float64) ([]models.Tensor, error) {
	norm := FullNorm(parts, ord)
	if norm == 0 {
		return nil, errors.WrapError(errors.ErrDegenerateGradient,
			errors.ErrorTypeNumerical, errors.CodeDegenerateGradient,
			"cannot normalize a zero-norm gradient")
	}
	inv := 1 / norm
	out := make([]models.Tensor, len(parts))
	for i, part := range parts {
		out[i] = part.Scaled(inv)
	}
	return out, nil
}
