// Package integration turns time-varying velocity fields into displacement
// fields with a semi-Lagrangian scheme.
package integration

import (
	"github.com/pkg/errors"

	"metareg/internal/models"
	"metareg/internal/parallel"
	"metareg/pkg/extrapolation"
	"metareg/pkg/interpolation"
)

// DefaultNumberOfIterations is the fixed-point iteration count per sub-step
const DefaultNumberOfIterations = 4

// Options configures a SemiLagrangian integrator
type Options struct {
	// NumberOfIterations is the fixed-point count used to resolve each
	// sub-step. Zero selects DefaultNumberOfIterations. Convergence is not
	// checked.
	NumberOfIterations int

	// NumberOfTimeSteps is the number of sub-steps a span is divided into.
	// Zero uses the frame count of the integrated field.
	NumberOfTimeSteps int

	// Workers is the goroutine count, 0 for all CPUs
	Workers int

	// VelocityInterpolator samples the velocity inside its periodic
	// extrapolator. Nil selects periodic linear interpolation.
	VelocityInterpolator interpolation.Interpolator

	// DisplacementInterpolator samples the accumulated (or initial)
	// displacement when composing sub-steps. Nil selects periodic linear.
	DisplacementInterpolator interpolation.Interpolator
}

// SemiLagrangian integrates velocity fields by tracing characteristics
type SemiLagrangian struct {
	opts Options
}

// NewSemiLagrangian creates an integrator, filling in defaults
func NewSemiLagrangian(opts Options) *SemiLagrangian {
	if opts.NumberOfIterations <= 0 {
		opts.NumberOfIterations = DefaultNumberOfIterations
	}
	return &SemiLagrangian{opts: opts}
}

// Options returns the effective configuration
func (s *SemiLagrangian) Options() Options {
	return s.opts
}

// Integrate flows along v over [t0, t0+span] and returns the displacement u
// such that x + u(x) is the position at time t0 of the particle found at x at
// time t0+span. Resampling an image I(t0) through u therefore yields
// I(t0+span). A negative span integrates backward in time.
//
// Each sub-step of length dt resolves y = x - dt*v(y) by a fixed number of
// fixed-point iterations and composes with the displacement accumulated so far
// through a lookup at y, which keeps the result a composition of maps rather
// than a sum of offsets. When initial is non-nil the accumulation starts from
// it, continuing an existing deformation.
func (s *SemiLagrangian) Integrate(v *models.TimeVaryingField, t0, span float64, initial *models.Field) (*models.Field, error) {
	if v == nil {
		return nil, errors.New("no velocity field to integrate")
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	geom := v.Geometry()
	dim := geom.Dimension()
	if v.Components() != dim {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "velocity has %d components on a %d-D grid", v.Components(), dim)
	}
	if initial != nil && (initial.Components != dim || !initial.Geometry.Equal(geom)) {
		return nil, errors.Wrap(models.ErrShapeMismatch, "initial displacement grid differs from velocity grid")
	}

	var acc *models.Field
	if initial != nil {
		acc = initial.Clone()
	}
	if span == 0 {
		if acc == nil {
			acc = models.NewVectorField(geom)
		}
		return acc, nil
	}

	steps := s.opts.NumberOfTimeSteps
	if steps <= 0 {
		steps = v.NumberOfTimeSteps()
	}
	dt := span / float64(steps)

	for step := 0; step < steps; step++ {
		mid := t0 + (float64(step)+0.5)*dt
		next, err := s.subStep(v.At(mid), acc, dt)
		if err != nil {
			return nil, errors.Wrapf(err, "sub-step %d", step)
		}
		acc = next
	}
	return acc, nil
}

// subStep traces every grid point back over dt through the velocity frame
// and composes with acc (nil meaning identity).
func (s *SemiLagrangian) subStep(velocity, acc *models.Field, dt float64) (*models.Field, error) {
	velWrap, err := extrapolation.NewWrap(velocity, s.opts.VelocityInterpolator)
	if err != nil {
		return nil, err
	}
	var dispWrap *extrapolation.Wrap
	if acc != nil {
		dispWrap, err = extrapolation.NewWrap(acc, s.opts.DisplacementInterpolator)
		if err != nil {
			return nil, err
		}
	}

	geom := velocity.Geometry
	dim := geom.Dimension()
	out := models.NewVectorField(geom)
	iterations := s.opts.NumberOfIterations

	parallel.For(s.opts.Workers, geom.NumberOfPixels(), func(start, end int) {
		index := make([]int, dim)
		x := make([]float64, dim)
		y := make([]float64, dim)
		vel := make([]float64, dim)
		u := make([]float64, dim)
		for off := start; off < end; off++ {
			index = geom.Index(off, index)
			x = geom.Point(index, x)
			copy(y, x)
			for it := 0; it < iterations; it++ {
				velWrap.EvaluateAtPoint(y, vel)
				for d := range y {
					y[d] = x[d] - dt*vel[d]
				}
			}

			res := out.At(off)
			if dispWrap != nil {
				dispWrap.EvaluateAtPoint(y, u)
				for d := range res {
					res[d] = y[d] - x[d] + u[d]
				}
			} else {
				for d := range res {
					res[d] = y[d] - x[d]
				}
			}
		}
	})
	return out, nil
}
