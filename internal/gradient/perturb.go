package gradient

import (
	"github.com/inferloop/dpsvi/pkg/models"
	"github.com/inferloop/dpsvi/pkg/rng"
)

// Perturb adds independent Gaussian noise with standard deviation scale to
// every element of every part. One fresh key is split off per part, in part
// order; the split order depends only on len(parts), never on the values, so
// noise stays independent of the data exactly as the accountant assumes.
//
// The result is intentionally neither clamped nor renormalized: the formal
// privacy bound accounts for unclamped Gaussian noise.
//
// Given an identical key and identical part shapes the output is
// bit-reproducible. With scale 0 the input values pass through bit-identical.
func Perturb(suite rng.Suite, key rng.Key, parts []models.Tensor, scale float64) []models.Tensor {
	siteKeys := suite.Split(key, len(parts))

	out := make([]models.Tensor, len(parts))
	for i, part := range parts {
		perturbed := part.Clone()
		if scale != 0 {
			noise := suite.Normal(siteKeys[i], part.Len())
			for j := range perturbed.Data {
				perturbed.Data[j] += scale * noise[j]
			}
		}
		out[i] = perturbed
	}
	return out
}
