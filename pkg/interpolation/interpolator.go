// Package interpolation evaluates sampled fields between grid points and
// resamples fields through displacement maps.
package interpolation

import (
	"math"

	"metareg/internal/models"
)

// maxDimension bounds the scratch arrays used on the hot path
const maxDimension = 8

// Interpolator evaluates a field at a continuous grid index
type Interpolator interface {
	// Evaluate writes the interpolated components of f at cidx into out.
	// len(out) must equal f.Components.
	Evaluate(f *models.Field, cidx []float64, out []float64)
}

// Linear is N-linear interpolation over the 2^N surrounding samples.
// With Periodic set, neighbours beyond either edge wrap to the opposite side;
// otherwise the index is clamped to the sampled region.
type Linear struct {
	Periodic bool
}

// Evaluate implements Interpolator
func (l Linear) Evaluate(f *models.Field, cidx []float64, out []float64) {
	dim := len(f.Geometry.Size)
	if dim > maxDimension {
		panic("interpolation: too many dimensions")
	}

	var lo, hi [maxDimension]int
	var frac [maxDimension]float64
	for d := 0; d < dim; d++ {
		n := f.Geometry.Size[d]
		c := cidx[d]
		if !l.Periodic {
			c = clamp(c, 0, float64(n-1))
		}
		base := math.Floor(c)
		frac[d] = c - base
		i := int(base)
		if l.Periodic {
			lo[d] = wrapIndex(i, n)
			hi[d] = wrapIndex(i+1, n)
		} else {
			lo[d] = i
			hi[d] = i + 1
			if hi[d] > n-1 {
				hi[d] = n - 1
			}
		}
	}

	for c := range out {
		out[c] = 0
	}
	comps := f.Components
	corners := 1 << uint(dim)
	for corner := 0; corner < corners; corner++ {
		w := 1.0
		off := 0
		stride := 1
		for d := 0; d < dim; d++ {
			if corner&(1<<uint(d)) != 0 {
				w *= frac[d]
				off += hi[d] * stride
			} else {
				w *= 1 - frac[d]
				off += lo[d] * stride
			}
			stride *= f.Geometry.Size[d]
		}
		if w == 0 {
			continue
		}
		sample := f.Data[off*comps : (off+1)*comps]
		for c := range out {
			out[c] += w * sample[c]
		}
	}
}

// NearestNeighbor returns the closest sample, as used for label and mask images
type NearestNeighbor struct {
	Periodic bool
}

// Evaluate implements Interpolator
func (nn NearestNeighbor) Evaluate(f *models.Field, cidx []float64, out []float64) {
	off := 0
	stride := 1
	for d, n := range f.Geometry.Size {
		i := int(math.Floor(cidx[d] + 0.5))
		if nn.Periodic {
			i = wrapIndex(i, n)
		} else if i < 0 {
			i = 0
		} else if i > n-1 {
			i = n - 1
		}
		off += i * stride
		stride *= n
	}
	copy(out, f.Data[off*f.Components:(off+1)*f.Components])
}

// Inside reports whether cidx lies within the sampled region of g
func Inside(g models.Geometry, cidx []float64) bool {
	for d, n := range g.Size {
		if cidx[d] < -0.5 || cidx[d] > float64(n)-0.5 {
			return false
		}
	}
	return true
}

func wrapIndex(i, n int) int {
	m := i % n
	if m < 0 {
		m += n
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
