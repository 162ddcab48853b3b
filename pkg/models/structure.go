package models

import (
	"github.com/inferloop/dpsvi/pkg/errors"
)

// Site is one named parameter group of a model together with its values or
// gradient contribution.
type Site struct {
	Name   string
	Values Tensor
}

// GradientStructure is a named, ordered collection of tensors, one per
// trainable parameter group. The same ordering and shapes are used for model
// parameters, per-example gradients and batch gradients, so that flattening
// and unflattening is a lossless round trip.
type GradientStructure []Site

// StructureDef is an opaque, reconstructible descriptor of a
// GradientStructure: site names, order and shapes. It is produced by Flatten
// and must be treated as an immutable value for the duration of a pipeline
// invocation.
type StructureDef struct {
	names  []string
	shapes [][]int
}

// NumSites returns the number of parameter sites described.
func (d StructureDef) NumSites() int {
	return len(d.names)
}

// Flatten converts the structure into a flat ordered list of tensors plus a
// descriptor from which the structure can be reassembled.
func (g GradientStructure) Flatten() ([]Tensor, StructureDef) {
	parts := make([]Tensor, len(g))
	def := StructureDef{
		names:  make([]string, len(g)),
		shapes: make([][]int, len(g)),
	}
	for i, site := range g {
		parts[i] = site.Values
		def.names[i] = site.Name
		def.shapes[i] = append([]int(nil), site.Values.Shape...)
	}
	return parts, def
}

// Unflatten reassembles a GradientStructure from a flat part list and the
// descriptor produced by Flatten. Part shapes must match the descriptor
// except for an optional leading batch dimension, which is preserved.
func Unflatten(def StructureDef, parts []Tensor) (GradientStructure, error) {
	if len(parts) != len(def.names) {
		return nil, errors.WrapError(errors.ErrStructureMismatch,
			errors.ErrorTypeInvalidArgument, errors.CodeStructureMismatch,
			"part count does not match structure descriptor")
	}
	out := make(GradientStructure, len(parts))
	for i, part := range parts {
		if !shapeMatchesSite(def.shapes[i], part.Shape) {
			return nil, errors.WrapError(errors.ErrStructureMismatch,
				errors.ErrorTypeInvalidArgument, errors.CodeStructureMismatch,
				"part shape does not match structure descriptor").
				WithContext("site", def.names[i])
		}
		out[i] = Site{Name: def.names[i], Values: part}
	}
	return out, nil
}

// shapeMatchesSite accepts either the site shape itself or the site shape
// with one extra leading dimension (per-example layout).
func shapeMatchesSite(siteShape, partShape []int) bool {
	if SameShape(siteShape, partShape) {
		return true
	}
	return len(partShape) == len(siteShape)+1 && SameShape(siteShape, partShape[1:])
}

// Clone returns a deep copy of the structure.
func (g GradientStructure) Clone() GradientStructure {
	out := make(GradientStructure, len(g))
	for i, site := range g {
		out[i] = Site{Name: site.Name, Values: site.Values.Clone()}
	}
	return out
}

// ZerosLike returns a structure with the same sites and shapes, zero-filled.
func (g GradientStructure) ZerosLike() GradientStructure {
	out := make(GradientStructure, len(g))
	for i, site := range g {
		out[i] = Site{Name: site.Name, Values: Zeros(site.Values.Shape...)}
	}
	return out
}

// Equal reports whether two structures are bit-identical in names, shapes
// and values.
func (g GradientStructure) Equal(other GradientStructure) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i].Name != other[i].Name || !g[i].Values.Equal(other[i].Values) {
			return false
		}
	}
	return true
}
