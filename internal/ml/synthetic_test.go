package ml

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpsvi/pkg/models"
	"github.com/inferloop/dpsvi/pkg/rng"
)

func TestSyntheticLogisticData(t *testing.T) {
	suite := rng.NewSecureSuite()
	data, trueWeights := SyntheticLogisticData(suite, suite.Seed(1), 50, 4)

	require.Len(t, data, 2)
	assert.Equal(t, []int{50, 4}, data[0].Shape)
	assert.Equal(t, []int{50}, data[1].Shape)
	assert.Equal(t, []int{4}, trueWeights.Shape)

	for _, label := range data[1].Data {
		assert.Contains(t, []float64{-1, 1}, label)
	}

	n, err := models.Batch(data).NumExamples()
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestSyntheticLogisticDataIsReproducible(t *testing.T) {
	suite := rng.NewSecureSuite()
	key := suite.Seed(2)

	a, wa := SyntheticLogisticData(suite, key, 20, 3)
	b, wb := SyntheticLogisticData(suite, key, 20, 3)

	assert.True(t, wa.Equal(wb))
	assert.True(t, a[0].Equal(b[0]))
	assert.True(t, a[1].Equal(b[1]))
}

func TestSubset(t *testing.T) {
	data := models.Batch{
		models.Tensor{Shape: []int{3, 2}, Data: []float64{1, 2, 3, 4, 5, 6}},
		models.Tensor{Shape: []int{3}, Data: []float64{-1, 1, -1}},
	}

	sub := Subset(data, []int{2, 0})
	assert.Equal(t, []int{2, 2}, sub[0].Shape)
	assert.Equal(t, []float64{5, 6, 1, 2}, sub[0].Data)
	assert.Equal(t, []float64{-1, -1}, sub[1].Data)
}

func TestShuffleIsPermutation(t *testing.T) {
	suite := rng.NewSecureSuite()
	perm := Shuffle(suite, suite.Seed(3), 100)

	sorted := append([]int(nil), perm...)
	sort.Ints(sorted)
	for i, v := range sorted {
		require.Equal(t, i, v)
	}
}

func TestShuffleDependsOnKey(t *testing.T) {
	suite := rng.NewSecureSuite()
	key := suite.Seed(4)

	assert.Equal(t, Shuffle(suite, key, 50), Shuffle(suite, key, 50))
	assert.NotEqual(t, Shuffle(suite, key, 50), Shuffle(suite, suite.FoldIn(key, 1), 50))
}
