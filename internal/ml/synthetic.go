package ml

import (
	"github.com/inferloop/dpsvi/pkg/models"
	"github.com/inferloop/dpsvi/pkg/rng"
)

// SyntheticLogisticData draws a random ground-truth weight vector and a
// dataset of n examples from the corresponding logistic model. Returned as a
// full-dataset batch (features [n, d], labels [n] in {-1,+1}) plus the true
// weights, for use by the example trainer and the end-to-end tests.
func SyntheticLogisticData(suite rng.Suite, key rng.Key, n, numFeatures int) (models.Batch, models.Tensor) {
	keys := suite.Split(key, 3)

	trueWeights := models.Tensor{
		Shape: []int{numFeatures},
		Data:  suite.Normal(keys[0], numFeatures),
	}

	features := models.Tensor{
		Shape: []int{n, numFeatures},
		Data:  suite.Normal(keys[1], n*numFeatures),
	}

	labels := models.Zeros(n)
	u := suite.Uniform(keys[2], n)
	for i := 0; i < n; i++ {
		logit := 0.0
		for j := 0; j < numFeatures; j++ {
			logit += trueWeights.Data[j] * features.Data[i*numFeatures+j]
		}
		if u[i] < sigmoid(logit) {
			labels.Data[i] = 1
		} else {
			labels.Data[i] = -1
		}
	}

	return models.Batch{features, labels}, trueWeights
}

// Subset extracts the examples at the given indices into a fresh batch.
func Subset(data models.Batch, indices []int) models.Batch {
	out := make(models.Batch, len(data))
	for a, arg := range data {
		exampleLen := arg.Len() / arg.Shape[0]
		shape := append([]int{len(indices)}, arg.Shape[1:]...)
		sub := models.Zeros(shape...)
		for i, idx := range indices {
			copy(sub.Data[i*exampleLen:(i+1)*exampleLen], arg.Data[idx*exampleLen:(idx+1)*exampleLen])
		}
		out[a] = sub
	}
	return out
}

// Shuffle returns a permutation of [0, n) derived from key, for per-epoch
// minibatch sampling. Callers should derive key via FoldIn on an epoch
// counter so the pipeline's own key stream stays untouched.
func Shuffle(suite rng.Suite, key rng.Key, n int) []int {
	u := suite.Uniform(key, n)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	// Fisher-Yates driven by the uniform draws.
	for i := n - 1; i > 0; i-- {
		j := int(u[i] * float64(i+1))
		if j > i {
			j = i
		}
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}
