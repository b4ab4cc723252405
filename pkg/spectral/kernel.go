// Package spectral regularises fields with frequency-domain kernels.
//
// The operator pairs a smoothing kernel K with its reciprocal L = 1/K, both
// built from the eigenvalues of the periodic discrete Laplacian on the grid:
//
//	A(k) = smoothness * sum_d 2(1 - cos(2*pi*k_d/n_d)) / h_d^2 + weight
//	L(k) = A(k)^2,  K(k) = 1 / A(k)^2
//
// Applying K turns an L2 gradient into a smooth update; L defines the
// regularisation energy <L f, f>.
package spectral

import (
	"math"

	"github.com/pkg/errors"

	"metareg/internal/models"
	"metareg/internal/parallel"
)

// ErrInvalidKernel is returned for non-positive kernel parameters
var ErrInvalidKernel = errors.New("invalid kernel parameters")

// BuildKernels computes the kernel and inverse kernel for a grid of the given size.
// Both are real, symmetric under k -> -k, and strictly positive because the
// weight term keeps A away from zero.
func BuildKernels(size []int, spacing []float64, smoothness, weight float64) (kernel, inverse []float64, err error) {
	if !(smoothness > 0) {
		return nil, nil, errors.Wrapf(ErrInvalidKernel, "smoothness must be positive, got %g", smoothness)
	}
	if !(weight > 0) {
		return nil, nil, errors.Wrapf(ErrInvalidKernel, "weight must be positive, got %g", weight)
	}
	if len(size) != len(spacing) {
		return nil, nil, errors.Wrapf(ErrInvalidKernel, "size has %d axes but spacing has %d", len(size), len(spacing))
	}

	total := 1
	for d, n := range size {
		if n <= 0 {
			return nil, nil, errors.Wrapf(models.ErrInvalidGeometry, "axis %d has size %d", d, n)
		}
		total *= n
	}

	// per-axis Laplacian eigenvalues
	eigen := make([][]float64, len(size))
	for d, n := range size {
		eigen[d] = make([]float64, n)
		h2 := spacing[d] * spacing[d]
		for k := 0; k < n; k++ {
			eigen[d][k] = 2 * (1 - math.Cos(2*math.Pi*float64(k)/float64(n))) / h2
		}
	}

	kernel = make([]float64, total)
	inverse = make([]float64, total)
	for off := 0; off < total; off++ {
		rem := off
		lambda := 0.0
		for d, n := range size {
			lambda += eigen[d][rem%n]
			rem /= n
		}
		a := smoothness*lambda + weight
		inverse[off] = a * a
		kernel[off] = 1 / (a * a)
	}
	return kernel, inverse, nil
}

// Operator applies a kernel pair to fields on a fixed spatial grid.
// Kernels are built once and are read-only afterwards, so an Operator may be
// shared between goroutines.
type Operator struct {
	geometry   models.Geometry
	smoothness float64
	weight     float64
	kernel     []float64
	inverse    []float64
	workers    int
}

// NewOperator builds the kernel pair for the given grid and parameters
func NewOperator(geometry models.Geometry, smoothness, weight float64, workers int) (*Operator, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	kernel, inverse, err := BuildKernels(geometry.Size, geometry.Spacing, smoothness, weight)
	if err != nil {
		return nil, err
	}
	return &Operator{
		geometry:   geometry.Clone(),
		smoothness: smoothness,
		weight:     weight,
		kernel:     kernel,
		inverse:    inverse,
		workers:    workers,
	}, nil
}

// Geometry returns the spatial grid the operator was built for
func (o *Operator) Geometry() models.Geometry {
	return o.geometry
}

// Kernel returns the smoothing kernel in frequency-index order
func (o *Operator) Kernel() []float64 {
	return o.kernel
}

// Smooth applies the smoothing kernel
func (o *Operator) Smooth(f *models.TimeVaryingField) (*models.TimeVaryingField, error) {
	return o.Apply(o.kernel, f)
}

// ApplyInverse applies the reciprocal kernel
func (o *Operator) ApplyInverse(f *models.TimeVaryingField) (*models.TimeVaryingField, error) {
	return o.Apply(o.inverse, f)
}

// Apply multiplies every component of every frame by kernel in the frequency
// domain. Smooth and ApplyInverse are exact inverses up to round-off for any
// grid size.
func (o *Operator) Apply(kernel []float64, f *models.TimeVaryingField) (*models.TimeVaryingField, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := &models.TimeVaryingField{Frames: make([]*models.Field, len(f.Frames))}
	for k, frame := range f.Frames {
		res, err := o.ApplyFrame(kernel, frame)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", k)
		}
		out.Frames[k] = res
	}
	return out, nil
}

// ApplyFrame applies kernel to a single spatial field
func (o *Operator) ApplyFrame(kernel []float64, f *models.Field) (*models.Field, error) {
	if !f.Geometry.Equal(o.geometry) {
		return nil, errors.Wrap(models.ErrShapeMismatch, "field grid differs from kernel grid")
	}
	if len(kernel) != len(o.kernel) {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "kernel has %d samples, expected %d", len(kernel), len(o.kernel))
	}

	out := models.NewField(f.Geometry, f.Components)
	var buf []complex128
	for c := 0; c < f.Components; c++ {
		buf = loadComponent(f, c, buf)
		fftND(buf, f.Geometry.Size, false, o.workers)
		parallel.For(o.workers, len(buf), func(start, end int) {
			for i := start; i < end; i++ {
				buf[i] *= complex(kernel[i], 0)
			}
		})
		fftND(buf, f.Geometry.Size, true, o.workers)
		storeComponent(buf, out, c)
	}
	return out, nil
}

// Norm returns sum_k sum_x <(L f_k)(x), f_k(x)> * voxelVolume * timeStep,
// the quadratic form behind the regularisation energies.
func (o *Operator) Norm(f *models.TimeVaryingField) (float64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	total := 0.0
	for k, frame := range f.Frames {
		n, err := o.FrameNorm(frame)
		if err != nil {
			return 0, errors.Wrapf(err, "frame %d", k)
		}
		total += n
	}
	return total * f.TimeStep(), nil
}

// FrameNorm returns sum_x <(L f)(x), f(x)> * voxelVolume for one frame
func (o *Operator) FrameNorm(f *models.Field) (float64, error) {
	lf, err := o.ApplyFrame(o.inverse, f)
	if err != nil {
		return 0, err
	}
	sum := parallel.Sum(o.workers, len(f.Data), func(start, end int) float64 {
		s := 0.0
		for i := start; i < end; i++ {
			s += lf.Data[i] * f.Data[i]
		}
		return s
	})
	return sum * o.geometry.VoxelVolume(), nil
}
