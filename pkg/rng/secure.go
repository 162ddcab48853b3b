package rng

import (
	"crypto/sha256"
	randv2 "math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Derivation tags keep the split and fold-in key-derivation domains
// disjoint.
const (
	tagSplit  = 0x73 // 's'
	tagFoldIn = 0x66 // 'f'
	tagSeed   = 0x69 // 'i'
)

// secureSuite derives keys with SHA-256 and samples from a ChaCha8 stream
// keyed by the 32-byte randomness state. This is the suite under which the
// privacy guarantees are stated.
type secureSuite struct{}

// NewSecureSuite returns the default cryptographic randomness suite.
func NewSecureSuite() Suite {
	return secureSuite{}
}

func (secureSuite) Name() string { return "chacha8" }

func (secureSuite) Seed(seed uint64) Key {
	return deriveKey(Key{}, tagSeed, seed)
}

func (secureSuite) Split(key Key, n int) []Key {
	keys := make([]Key, n)
	for i := range keys {
		keys[i] = deriveKey(key, tagSplit, uint64(i))
	}
	return keys
}

func (secureSuite) FoldIn(key Key, data uint64) Key {
	return deriveKey(key, tagFoldIn, data)
}

func (secureSuite) Normal(key Key, n int) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: randv2.NewChaCha8(key)}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func (secureSuite) Uniform(key Key, n int) []float64 {
	src := randv2.New(randv2.NewChaCha8(key))
	out := make([]float64, n)
	for i := range out {
		out[i] = src.Float64()
	}
	return out
}

func deriveKey(key Key, tag byte, v uint64) Key {
	buf := make([]byte, 0, KeyRandomnessInBytes+9)
	buf = append(buf, key[:]...)
	buf = append(buf, tag)
	buf = appendUint64(buf, v)
	return sha256.Sum256(buf)
}
