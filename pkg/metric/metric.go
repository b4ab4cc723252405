// Package metric provides the image similarity term of the registration
// energy and image quality measures for reporting.
package metric

import (
	"github.com/pkg/errors"

	"metareg/internal/models"
	"metareg/internal/parallel"
)

// Metric is a data term comparing a deformed moving image against a fixed image
type Metric interface {
	// Value returns the energy over the samples where mask is non-zero.
	// A nil mask selects every sample.
	Value(moving, fixed, mask *models.Field) (float64, error)

	// Derivative returns the derivative of Value with respect to the moving
	// image at every sample, per unit voxel volume.
	Derivative(moving, fixed, mask *models.Field) (*models.Field, error)
}

// MeanSquares is the Gaussian noise model
//
//	E = 1/(2 sigma^2) * sum_x M(x) (moving(x) - fixed(x))^2 * voxelVolume
type MeanSquares struct {
	Sigma   float64
	Workers int
}

// Value implements Metric
func (m MeanSquares) Value(moving, fixed, mask *models.Field) (float64, error) {
	if err := checkImages(moving, fixed, mask); err != nil {
		return 0, err
	}
	if !(m.Sigma > 0) {
		return 0, errors.Errorf("sigma must be positive, got %g", m.Sigma)
	}

	sum := parallel.Sum(m.Workers, len(moving.Data), func(start, end int) float64 {
		s := 0.0
		for i := start; i < end; i++ {
			if mask != nil && mask.Data[i] == 0 {
				continue
			}
			diff := moving.Data[i] - fixed.Data[i]
			s += diff * diff
		}
		return s
	})
	return sum * moving.Geometry.VoxelVolume() / (2 * m.Sigma * m.Sigma), nil
}

// Derivative implements Metric: M(x) (moving(x) - fixed(x)) / sigma^2
func (m MeanSquares) Derivative(moving, fixed, mask *models.Field) (*models.Field, error) {
	if err := checkImages(moving, fixed, mask); err != nil {
		return nil, err
	}
	if !(m.Sigma > 0) {
		return nil, errors.Errorf("sigma must be positive, got %g", m.Sigma)
	}

	out := models.NewImage(moving.Geometry)
	inv := 1 / (m.Sigma * m.Sigma)
	parallel.For(m.Workers, len(moving.Data), func(start, end int) {
		for i := start; i < end; i++ {
			if mask != nil && mask.Data[i] == 0 {
				continue
			}
			out.Data[i] = (moving.Data[i] - fixed.Data[i]) * inv
		}
	})
	return out, nil
}

func checkImages(moving, fixed, mask *models.Field) error {
	if moving == nil || fixed == nil {
		return errors.New("metric needs both a moving and a fixed image")
	}
	if moving.Components != 1 || fixed.Components != 1 {
		return errors.Wrap(models.ErrShapeMismatch, "metric images must be scalar")
	}
	if !moving.SameShape(fixed) {
		return errors.Wrap(models.ErrShapeMismatch, "moving and fixed images are on different grids")
	}
	if mask != nil && !mask.SameShape(fixed) {
		return errors.Wrap(models.ErrShapeMismatch, "mask grid differs from image grid")
	}
	return nil
}

// Gradient returns the spatial gradient of a scalar image in physical units,
// using central differences inside and one-sided differences at the borders.
func Gradient(img *models.Field, workers int) *models.Field {
	geom := img.Geometry
	dim := geom.Dimension()
	out := models.NewVectorField(geom)

	strides := make([]int, dim)
	stride := 1
	for d, n := range geom.Size {
		strides[d] = stride
		stride *= n
	}

	parallel.For(workers, geom.NumberOfPixels(), func(start, end int) {
		index := make([]int, dim)
		for off := start; off < end; off++ {
			index = geom.Index(off, index)
			g := out.At(off)
			for d := 0; d < dim; d++ {
				lo, hi := off, off
				span := 0.0
				if index[d] > 0 {
					lo = off - strides[d]
					span += geom.Spacing[d]
				}
				if index[d] < geom.Size[d]-1 {
					hi = off + strides[d]
					span += geom.Spacing[d]
				}
				if span > 0 {
					g[d] = (img.Data[hi] - img.Data[lo]) / span
				}
			}
		}
	})
	return out
}
