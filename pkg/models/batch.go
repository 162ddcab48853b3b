package models

import (
	"github.com/inferloop/dpsvi/pkg/errors"
)

// Batch is the ordered argument list handed to a loss evaluator. Every
// tensor carries the batch size as its leading dimension.
type Batch []Tensor

// NumExamples returns the size of the leading batch dimension, verifying it
// is consistent across all arguments.
func (b Batch) NumExamples() (int, error) {
	if len(b) == 0 {
		return 0, errors.WrapError(errors.ErrEmptyBatch,
			errors.ErrorTypeInvalidArgument, errors.CodeEmptyBatch,
			"batch has no argument tensors")
	}
	n := b[0].Shape[0]
	for _, arg := range b[1:] {
		if len(arg.Shape) == 0 || arg.Shape[0] != n {
			return 0, errors.WrapError(errors.ErrInconsistentBatch,
				errors.ErrorTypeInvalidArgument, errors.CodeInconsistentBatch,
				"batch arguments disagree on leading dimension")
		}
	}
	if n == 0 {
		return 0, errors.WrapError(errors.ErrEmptyBatch,
			errors.ErrorTypeInvalidArgument, errors.CodeEmptyBatch,
			"batch has zero examples")
	}
	return n, nil
}

// Example extracts example i from the batch, restoring a singleton leading
// dimension so that loss evaluators never need to special-case batching.
// The returned tensors alias the batch storage.
func (b Batch) Example(i int) Batch {
	out := make(Batch, len(b))
	for a, arg := range b {
		exampleLen := arg.Len() / arg.Shape[0]
		out[a] = Tensor{
			Shape: append([]int{1}, arg.Shape[1:]...),
			Data:  arg.Data[i*exampleLen : (i+1)*exampleLen],
		}
	}
	return out
}
