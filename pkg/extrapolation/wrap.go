// Package extrapolation evaluates fields outside their sampled region.
package extrapolation

import (
	"math"

	"github.com/pkg/errors"

	"metareg/internal/models"
	"metareg/pkg/interpolation"
)

// Wrap treats the sampled region as one period of an infinitely repeating
// field. Coordinates outside the region are folded back by whole extents along
// each axis independently and then handed to an interpolator. It never clamps.
type Wrap struct {
	field  *models.Field
	interp interpolation.Interpolator
}

// NewWrap creates a periodic extrapolator over field. A nil interpolator
// selects periodic linear interpolation. Every axis must have a positive size.
func NewWrap(field *models.Field, interp interpolation.Interpolator) (*Wrap, error) {
	if field == nil {
		return nil, errors.New("wrap extrapolator needs a field")
	}
	for d, n := range field.Geometry.Size {
		if n <= 0 {
			return nil, errors.Wrapf(models.ErrInvalidGeometry, "wrap extrapolation over axis %d of size %d", d, n)
		}
	}
	if interp == nil {
		interp = interpolation.Linear{Periodic: true}
	}
	return &Wrap{field: field, interp: interp}, nil
}

// Field returns the wrapped field
func (w *Wrap) Field() *models.Field {
	return w.field
}

// Interpolator returns the interpolator used for continuous lookups
func (w *Wrap) Interpolator() interpolation.Interpolator {
	return w.interp
}

// FoldContinuousIndex folds cidx in place into [start, end) per axis, where
// the continuous bounds of an axis of n samples are [-0.5, n-0.5).
func (w *Wrap) FoldContinuousIndex(cidx []float64) {
	for d, n := range w.field.Geometry.Size {
		cidx[d] = FoldContinuous(cidx[d], -0.5, float64(n)-0.5)
	}
}

// FoldIndex folds idx in place into [0, n-1] per axis
func (w *Wrap) FoldIndex(idx []int) {
	for d, n := range w.field.Geometry.Size {
		idx[d] = FoldIndex(idx[d], 0, n-1)
	}
}

// EvaluateAtContinuousIndex writes the extrapolated components at cidx into
// out. cidx is not modified.
func (w *Wrap) EvaluateAtContinuousIndex(cidx []float64, out []float64) {
	var buf [8]float64
	folded := buf[:len(cidx)]
	if len(cidx) > len(buf) {
		folded = make([]float64, len(cidx))
	}
	copy(folded, cidx)
	w.FoldContinuousIndex(folded)
	w.interp.Evaluate(w.field, folded, out)
}

// EvaluateAtIndex writes the sample at the folded discrete index into out.
// idx is not modified.
func (w *Wrap) EvaluateAtIndex(idx []int, out []float64) {
	var buf [8]int
	folded := buf[:len(idx)]
	if len(idx) > len(buf) {
		folded = make([]int, len(idx))
	}
	copy(folded, idx)
	w.FoldIndex(folded)
	copy(out, w.field.At(w.field.Geometry.Offset(folded)))
}

// EvaluateAtPoint writes the extrapolated components at a physical point into out
func (w *Wrap) EvaluateAtPoint(point []float64, out []float64) {
	var buf [8]float64
	cidx := buf[:len(point)]
	if len(point) > len(buf) {
		cidx = make([]float64, len(point))
	}
	w.field.Geometry.ContinuousIndex(point, cidx)
	w.FoldContinuousIndex(cidx)
	w.interp.Evaluate(w.field, cidx, out)
}

// FoldContinuous maps x into [start, end) by adding or subtracting whole
// multiples of end-start.
func FoldContinuous(x, start, end float64) float64 {
	if x >= start && x < end {
		return x
	}
	extent := end - start
	r := math.Mod(x-start, extent)
	if r < 0 {
		r += extent
	}
	// math.Mod of a tiny negative value can round up to a full extent
	if r >= extent {
		r = 0
	}
	return start + r
}

// FoldIndex maps i into [start, end] by adding or subtracting whole multiples
// of end-start+1.
func FoldIndex(i, start, end int) int {
	if i >= start && i <= end {
		return i
	}
	extent := end - start + 1
	r := (i - start) % extent
	if r < 0 {
		r += extent
	}
	return start + r
}
