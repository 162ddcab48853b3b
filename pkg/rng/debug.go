package rng

import (
	"encoding/binary"
	randv2 "math/rand/v2"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

var debugWarnOnce sync.Once

// debugSuite is a non-cryptographic drop-in for the secure suite built on
// SplitMix64 derivation and a PCG stream. It is considerably faster but
// offers no protection against an adversary reconstructing the noise;
// privacy guarantees do NOT hold under it.
type debugSuite struct {
	logger *logrus.Logger
}

// NewDebugSuite returns the non-cryptographic debugging suite. It logs a
// warning on construction so that accidental production use is visible.
func NewDebugSuite(logger *logrus.Logger) Suite {
	if logger == nil {
		logger = logrus.New()
	}
	debugWarnOnce.Do(func() {
		logger.Warn(
			"dpsvi is using a non-cryptographic random number generator; " +
				"this is intended for debugging only - switch to the secure suite " +
				"to ensure privacy guarantees hold")
	})
	return debugSuite{logger: logger}
}

func (debugSuite) Name() string { return "splitmix64" }

func (debugSuite) Seed(seed uint64) Key {
	return keyFromState(splitmix64(seed))
}

func (debugSuite) Split(key Key, n int) []Key {
	state := stateFromKey(key)
	keys := make([]Key, n)
	for i := range keys {
		keys[i] = keyFromState(splitmix64(state + uint64(i) + 1))
	}
	return keys
}

func (debugSuite) FoldIn(key Key, data uint64) Key {
	return keyFromState(splitmix64(stateFromKey(key) ^ splitmix64(data)))
}

func (d debugSuite) Normal(key Key, n int) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: d.source(key)}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func (d debugSuite) Uniform(key Key, n int) []float64 {
	src := randv2.New(d.source(key))
	out := make([]float64, n)
	for i := range out {
		out[i] = src.Float64()
	}
	return out
}

func (debugSuite) source(key Key) randv2.Source {
	state := stateFromKey(key)
	return randv2.NewPCG(state, splitmix64(state))
}

func stateFromKey(key Key) uint64 {
	return binary.BigEndian.Uint64(key[:8])
}

func keyFromState(state uint64) Key {
	var key Key
	binary.BigEndian.PutUint64(key[:8], state)
	return key
}

// splitmix64 is the finalizer of the SplitMix64 generator (Steele et al.),
// used here as a cheap mixing function.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
