package models

import (
	"github.com/inferloop/dpsvi/pkg/errors"
)

// PerExampleGradients holds one gradient per training example in flattened
// form: one tensor per parameter site, each carrying an extra leading
// dimension of size batchSize. Instances are transient, produced and
// consumed within a single pipeline step.
type PerExampleGradients struct {
	parts     []Tensor
	def       StructureDef
	batchSize int
}

// StackExamples builds a PerExampleGradients value from one flattened
// GradientStructure per example. All examples must share the same site
// ordering and shapes.
func StackExamples(examples []GradientStructure) (PerExampleGradients, error) {
	if len(examples) == 0 {
		return PerExampleGradients{}, errors.WrapError(errors.ErrEmptyBatch,
			errors.ErrorTypeInvalidArgument, errors.CodeEmptyBatch,
			"cannot stack zero per-example gradients")
	}

	first, def := examples[0].Flatten()
	n := len(examples)

	parts := make([]Tensor, len(first))
	for s, site := range first {
		stacked := Zeros(append([]int{n}, site.Shape...)...)
		parts[s] = stacked
	}

	for i, example := range examples {
		exParts, exDef := example.Flatten()
		if len(exParts) != len(first) {
			return PerExampleGradients{}, errors.WrapError(errors.ErrStructureMismatch,
				errors.ErrorTypeInvalidArgument, errors.CodeStructureMismatch,
				"per-example gradient structures differ across examples")
		}
		for s, part := range exParts {
			if exDef.names[s] != def.names[s] || !SameShape(part.Shape, first[s].Shape) {
				return PerExampleGradients{}, errors.WrapError(errors.ErrStructureMismatch,
					errors.ErrorTypeInvalidArgument, errors.CodeStructureMismatch,
					"per-example gradient sites differ across examples").
					WithContext("example", i)
			}
			copy(parts[s].Data[i*part.Len():(i+1)*part.Len()], part.Data)
		}
	}

	return PerExampleGradients{parts: parts, def: def, batchSize: n}, nil
}

// BatchSize returns the number of examples.
func (p PerExampleGradients) BatchSize() int {
	return p.batchSize
}

// Def returns the structure descriptor shared by all examples.
func (p PerExampleGradients) Def() StructureDef {
	return p.def
}

// NumSites returns the number of parameter sites.
func (p PerExampleGradients) NumSites() int {
	return len(p.parts)
}

// ExampleParts returns the gradient of example i as one tensor per site,
// without the leading batch dimension. The returned tensors alias the
// underlying storage.
func (p PerExampleGradients) ExampleParts(i int) []Tensor {
	out := make([]Tensor, len(p.parts))
	for s, part := range p.parts {
		siteLen := part.Len() / p.batchSize
		out[s] = Tensor{
			Shape: append([]int(nil), part.Shape[1:]...),
			Data:  part.Data[i*siteLen : (i+1)*siteLen],
		}
	}
	return out
}

// SetExampleParts overwrites the gradient of example i.
func (p PerExampleGradients) SetExampleParts(i int, parts []Tensor) {
	for s, part := range parts {
		siteLen := p.parts[s].Len() / p.batchSize
		copy(p.parts[s].Data[i*siteLen:(i+1)*siteLen], part.Data)
	}
}

// MeanOverExamples aggregates the per-example gradients into batch gradient
// parts using the arithmetic mean along the example axis.
func (p PerExampleGradients) MeanOverExamples() []Tensor {
	out := make([]Tensor, len(p.parts))
	inv := 1.0 / float64(p.batchSize)
	for s, part := range p.parts {
		siteLen := part.Len() / p.batchSize
		mean := Zeros(part.Shape[1:]...)
		for i := 0; i < p.batchSize; i++ {
			ex := part.Data[i*siteLen : (i+1)*siteLen]
			for j, v := range ex {
				mean.Data[j] += v
			}
		}
		for j := range mean.Data {
			mean.Data[j] *= inv
		}
		out[s] = mean
	}
	return out
}
