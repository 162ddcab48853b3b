package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func suites() map[string]Suite {
	return map[string]Suite{
		"secure": NewSecureSuite(),
		"debug":  NewDebugSuite(nil),
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, suite.Seed(42), suite.Seed(42))
			assert.NotEqual(t, suite.Seed(42), suite.Seed(43))
		})
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			key := suite.Seed(7)
			first := suite.Split(key, 4)
			second := suite.Split(key, 4)
			assert.Equal(t, first, second, "splitting a key is a pure function")
		})
	}
}

func TestSplitChildrenAreDistinct(t *testing.T) {
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			key := suite.Seed(7)
			keys := suite.Split(key, 8)
			require.Len(t, keys, 8)

			seen := map[Key]bool{key: true}
			for _, child := range keys {
				assert.False(t, seen[child], "child keys must differ from the parent and each other")
				seen[child] = true
			}
		})
	}
}

func TestSplitPrefixStability(t *testing.T) {
	// The i-th child depends only on (key, i), so widening a split must not
	// change earlier children. Update relies on this when the batch size
	// varies between steps.
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			key := suite.Seed(3)
			narrow := suite.Split(key, 2)
			wide := suite.Split(key, 5)
			assert.Equal(t, narrow, wide[:2])
		})
	}
}

func TestFoldIn(t *testing.T) {
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			key := suite.Seed(7)
			assert.Equal(t, suite.FoldIn(key, 1), suite.FoldIn(key, 1))
			assert.NotEqual(t, suite.FoldIn(key, 1), suite.FoldIn(key, 2))
			assert.NotEqual(t, key, suite.FoldIn(key, 1))
		})
	}
}

func TestFoldInDisjointFromSplit(t *testing.T) {
	suite := NewSecureSuite()
	key := suite.Seed(7)
	assert.NotEqual(t, suite.Split(key, 1)[0], suite.FoldIn(key, 0),
		"split and fold-in derivation domains must not collide")
}

func TestNormalMoments(t *testing.T) {
	const n = 20000
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			samples := suite.Normal(suite.Seed(11), n)
			require.Len(t, samples, n)

			assert.InDelta(t, 0, stat.Mean(samples, nil), 0.05)
			assert.InDelta(t, 1, stat.StdDev(samples, nil), 0.05)
		})
	}
}

func TestNormalIsReproducible(t *testing.T) {
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			key := suite.Seed(5)
			assert.Equal(t, suite.Normal(key, 100), suite.Normal(key, 100))

			other := suite.Split(key, 1)[0]
			assert.NotEqual(t, suite.Normal(key, 100), suite.Normal(other, 100))
		})
	}
}

func TestUniformRange(t *testing.T) {
	for name, suite := range suites() {
		t.Run(name, func(t *testing.T) {
			samples := suite.Uniform(suite.Seed(13), 10000)
			for _, v := range samples {
				require.GreaterOrEqual(t, v, 0.0)
				require.Less(t, v, 1.0)
			}
			assert.InDelta(t, 0.5, stat.Mean(samples, nil), 0.02)
		})
	}
}

func TestSuiteNames(t *testing.T) {
	assert.Equal(t, "chacha8", NewSecureSuite().Name())
	assert.Equal(t, "splitmix64", NewDebugSuite(nil).Name())
}
