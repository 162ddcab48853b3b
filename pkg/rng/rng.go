// Package rng provides the splittable, explicitly state-threaded randomness
// source used by the DP-SVI gradient pipeline.
//
// Every consumption of randomness takes a Key and derives fresh child keys
// from it; no key may be consumed twice, and there is no process-wide
// mutable generator state. Key derivation depends only on the key bytes and
// the split index, never on floating-point data, so noise independence
// assumptions made by the privacy accountant hold exactly.
package rng

import (
	"encoding/binary"
)

// KeyRandomnessInBytes is the size of the randomness state in bytes.
const KeyRandomnessInBytes = 32

// Key is an immutable randomness state. Deriving child keys leaves the
// parent untouched; the caller is responsible for discarding consumed keys.
type Key [KeyRandomnessInBytes]byte

// Suite bundles the randomness operations required by the pipeline. Two
// implementations are provided: the default cryptographic suite
// (NewSecureSuite) and a faster non-cryptographic one for debugging
// (NewDebugSuite).
type Suite interface {
	// Name identifies the suite in logs.
	Name() string

	// Seed deterministically derives an initial key from an integer seed.
	Seed(seed uint64) Key

	// Split derives n independent child keys from key. The returned keys
	// are a pure function of (key, index); splitting the same key twice
	// yields the same children, so a key must never be reused across two
	// invocations.
	Split(key Key, n int) []Key

	// FoldIn derives a new key by mixing data into key. Used by callers
	// for per-epoch key derivation; the pipeline itself only splits.
	FoldIn(key Key, data uint64) Key

	// Normal draws n independent standard normal samples from the stream
	// keyed by key.
	Normal(key Key, n int) []float64

	// Uniform draws n independent samples from [0, 1).
	Uniform(key Key, n int) []float64
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}
