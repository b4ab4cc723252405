package integration

import (
	"gonum.org/v1/gonum/mat"

	"metareg/internal/models"
	"metareg/internal/parallel"
)

// JacobianDeterminant returns det(I + grad u) at every sample of the
// displacement u, the local volume change of x -> x + u(x). Derivatives use
// central differences in physical units, one-sided at the borders.
func JacobianDeterminant(u *models.Field, workers int) *models.Field {
	geom := u.Geometry
	dim := geom.Dimension()
	out := models.NewImage(geom)

	strides := make([]int, dim)
	stride := 1
	for d, n := range geom.Size {
		strides[d] = stride
		stride *= n
	}

	parallel.For(workers, geom.NumberOfPixels(), func(start, end int) {
		index := make([]int, dim)
		jac := mat.NewDense(dim, dim, nil)
		for off := start; off < end; off++ {
			index = geom.Index(off, index)
			for d := 0; d < dim; d++ {
				n := geom.Size[d]
				lo, hi := off, off
				span := 0.0
				if index[d] > 0 {
					lo = off - strides[d]
					span += geom.Spacing[d]
				}
				if index[d] < n-1 {
					hi = off + strides[d]
					span += geom.Spacing[d]
				}
				for c := 0; c < dim; c++ {
					deriv := 0.0
					if span > 0 {
						deriv = (u.Data[hi*dim+c] - u.Data[lo*dim+c]) / span
					}
					if c == d {
						deriv += 1
					}
					jac.Set(c, d, deriv)
				}
			}
			out.Data[off] = mat.Det(jac)
		}
	})
	return out
}
