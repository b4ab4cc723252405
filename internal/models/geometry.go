package models

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidGeometry is returned when a grid has no extent along some axis
// or a non-positive spacing.
var ErrInvalidGeometry = errors.New("invalid geometry")

// ErrShapeMismatch is returned when two fields that must share a grid do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Geometry describes a uniform N-dimensional sampling grid.
// Axis 0 is the fastest varying axis in every flat data array.
type Geometry struct {
	// Size is the number of samples along each axis
	Size []int

	// Spacing is the physical distance between neighbouring samples along each axis
	Spacing []float64

	// Origin is the physical position of the sample at index 0
	Origin []float64
}

// NewGeometry creates a geometry with unit spacing and zero origin
func NewGeometry(size ...int) Geometry {
	g := Geometry{
		Size:    append([]int(nil), size...),
		Spacing: make([]float64, len(size)),
		Origin:  make([]float64, len(size)),
	}
	for i := range g.Spacing {
		g.Spacing[i] = 1
	}
	return g
}

// Validate checks that every axis has a positive extent and spacing
func (g Geometry) Validate() error {
	if len(g.Size) == 0 {
		return errors.Wrap(ErrInvalidGeometry, "geometry has no axes")
	}
	if len(g.Spacing) != len(g.Size) || len(g.Origin) != len(g.Size) {
		return errors.Wrapf(ErrInvalidGeometry, "size, spacing and origin lengths differ (%d, %d, %d)",
			len(g.Size), len(g.Spacing), len(g.Origin))
	}
	for d, n := range g.Size {
		if n <= 0 {
			return errors.Wrapf(ErrInvalidGeometry, "axis %d has size %d", d, n)
		}
		if !(g.Spacing[d] > 0) {
			return errors.Wrapf(ErrInvalidGeometry, "axis %d has spacing %g", d, g.Spacing[d])
		}
	}
	return nil
}

// Dimension returns the number of spatial axes
func (g Geometry) Dimension() int {
	return len(g.Size)
}

// NumberOfPixels returns the total number of samples on the grid
func (g Geometry) NumberOfPixels() int {
	n := 1
	for _, s := range g.Size {
		n *= s
	}
	return n
}

// VoxelVolume returns the physical volume of a single sample
func (g Geometry) VoxelVolume() float64 {
	v := 1.0
	for _, h := range g.Spacing {
		v *= h
	}
	return v
}

// Equal reports whether two geometries describe the same grid
func (g Geometry) Equal(o Geometry) bool {
	if len(g.Size) != len(o.Size) || len(g.Spacing) != len(o.Spacing) || len(g.Origin) != len(o.Origin) {
		return false
	}
	const tol = 1e-9
	for d := range g.Size {
		if g.Size[d] != o.Size[d] {
			return false
		}
		if math.Abs(g.Spacing[d]-o.Spacing[d]) > tol*math.Max(1, math.Abs(g.Spacing[d])) {
			return false
		}
		if math.Abs(g.Origin[d]-o.Origin[d]) > tol*math.Max(1, math.Abs(g.Origin[d])) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the geometry
func (g Geometry) Clone() Geometry {
	return Geometry{
		Size:    append([]int(nil), g.Size...),
		Spacing: append([]float64(nil), g.Spacing...),
		Origin:  append([]float64(nil), g.Origin...),
	}
}

// Offset converts a grid index to a flat sample offset
func (g Geometry) Offset(index []int) int {
	off := 0
	stride := 1
	for d, i := range index {
		off += i * stride
		stride *= g.Size[d]
	}
	return off
}

// Index converts a flat sample offset into a grid index, writing into dst
func (g Geometry) Index(offset int, dst []int) []int {
	if len(dst) != len(g.Size) {
		dst = make([]int, len(g.Size))
	}
	for d, n := range g.Size {
		dst[d] = offset % n
		offset /= n
	}
	return dst
}

// Point converts a grid index to a physical position, writing into dst
func (g Geometry) Point(index []int, dst []float64) []float64 {
	if len(dst) != len(g.Size) {
		dst = make([]float64, len(g.Size))
	}
	for d, i := range index {
		dst[d] = g.Origin[d] + float64(i)*g.Spacing[d]
	}
	return dst
}

// ContinuousIndex converts a physical position to a continuous grid index
func (g Geometry) ContinuousIndex(point []float64, dst []float64) []float64 {
	if len(dst) != len(g.Size) {
		dst = make([]float64, len(g.Size))
	}
	for d, p := range point {
		dst[d] = (p - g.Origin[d]) / g.Spacing[d]
	}
	return dst
}
