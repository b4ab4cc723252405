package interpolation

import (
	"metareg/internal/models"
	"metareg/internal/parallel"
)

// Warp resamples src at x + u(x) for every sample x of the displacement grid.
// A nil displacement resamples on the identity map.
//
// Parameters:
//   - src: field to resample, any component count
//   - displacement: vector field in physical units on the output grid
//   - interp: interpolator used on src
//   - workers: goroutine count, 0 for all CPUs
//
// Returns:
//   - A field on the displacement grid with src's component count
func Warp(src, displacement *models.Field, interp Interpolator, workers int) *models.Field {
	geom := src.Geometry
	if displacement != nil {
		geom = displacement.Geometry
	}
	out := models.NewField(geom, src.Components)
	dim := geom.Dimension()

	parallel.For(workers, geom.NumberOfPixels(), func(start, end int) {
		index := make([]int, dim)
		point := make([]float64, dim)
		cidx := make([]float64, dim)
		for off := start; off < end; off++ {
			index = geom.Index(off, index)
			point = geom.Point(index, point)
			if displacement != nil {
				u := displacement.At(off)
				for d := range point {
					point[d] += u[d]
				}
			}
			cidx = src.Geometry.ContinuousIndex(point, cidx)
			interp.Evaluate(src, cidx, out.At(off))
		}
	})
	return out
}

// WarpMask resamples a binary mask with nearest-neighbour lookup. Samples that
// map outside the mask's grid are outside the mask.
func WarpMask(mask, displacement *models.Field, workers int) *models.Field {
	geom := mask.Geometry
	if displacement != nil {
		geom = displacement.Geometry
	}
	out := models.NewImage(geom)
	dim := geom.Dimension()
	nn := NearestNeighbor{}

	parallel.For(workers, geom.NumberOfPixels(), func(start, end int) {
		index := make([]int, dim)
		point := make([]float64, dim)
		cidx := make([]float64, dim)
		v := make([]float64, 1)
		for off := start; off < end; off++ {
			index = geom.Index(off, index)
			point = geom.Point(index, point)
			if displacement != nil {
				u := displacement.At(off)
				for d := range point {
					point[d] += u[d]
				}
			}
			cidx = mask.Geometry.ContinuousIndex(point, cidx)
			if !Inside(mask.Geometry, cidx) {
				continue
			}
			nn.Evaluate(mask, cidx, v)
			if v[0] != 0 {
				out.Data[off] = 1
			}
		}
	})
	return out
}
