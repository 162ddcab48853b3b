package models

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense, row-major float64 array of arbitrary rank.
//
// Tensors produced by the gradient pipeline are treated as immutable values:
// operations that transform a tensor allocate a fresh one and leave the
// receiver untouched.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor creates a tensor with the given shape backed by data. The length
// of data must match the product of the shape dimensions.
func NewTensor(shape []int, data []float64) (Tensor, error) {
	n := NumElements(shape)
	if len(data) != n {
		return Tensor{}, fmt.Errorf("tensor data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// Zeros creates a zero-filled tensor of the given shape.
func Zeros(shape ...int) Tensor {
	return Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, NumElements(shape)),
	}
}

// Scalar creates a rank-1 tensor holding a single value.
func Scalar(v float64) Tensor {
	return Tensor{Shape: []int{1}, Data: []float64{v}}
}

// NumElements returns the number of elements implied by shape. The empty
// shape denotes a scalar and counts as one element.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements in the tensor.
func (t Tensor) Len() int {
	return len(t.Data)
}

// Clone returns a deep copy of the tensor.
func (t Tensor) Clone() Tensor {
	out := Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  make([]float64, len(t.Data)),
	}
	copy(out.Data, t.Data)
	return out
}

// Scaled returns a new tensor with every element multiplied by f.
func (t Tensor) Scaled(f float64) Tensor {
	out := t.Clone()
	floats.Scale(f, out.Data)
	return out
}

// Added returns the elementwise sum of t and other as a new tensor.
func (t Tensor) Added(other Tensor) (Tensor, error) {
	if !SameShape(t.Shape, other.Shape) {
		return Tensor{}, fmt.Errorf("shape mismatch: %v vs %v", t.Shape, other.Shape)
	}
	out := t.Clone()
	floats.Add(out.Data, other.Data)
	return out, nil
}

// Equal reports whether two tensors have identical shape and bit-identical
// element values.
func (t Tensor) Equal(other Tensor) bool {
	if !SameShape(t.Shape, other.Shape) {
		return false
	}
	return floats.Equal(t.Data, other.Data)
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
