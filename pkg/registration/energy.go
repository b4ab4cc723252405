package registration

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"metareg/internal/models"
	"metareg/internal/parallel"
	"metareg/pkg/integration"
	"metareg/pkg/interpolation"
	"metareg/pkg/metric"
)

// Integrator produces displacement fields from time-varying velocities
type Integrator interface {
	Integrate(v *models.TimeVaryingField, t0, span float64, initial *models.Field) (*models.Field, error)
}

// Regularizer smooths gradients and measures fields in its Sobolev norm
type Regularizer interface {
	Smooth(f *models.TimeVaryingField) (*models.TimeVaryingField, error)
	Norm(f *models.TimeVaryingField) (float64, error)
	FrameNorm(f *models.Field) (float64, error)
}

// evaluation is the energy bookkeeping of one (velocity, rate) pair
type evaluation struct {
	velocity *models.TimeVaryingField
	rate     *models.TimeVaryingField

	displacement *models.Field
	warped       *models.Field // moving image resampled through displacement
	bias         *models.Field // nil without bias estimation
	mask         *models.Field // nil when every sample counts

	imageEnergy    float64
	velocityEnergy float64
	rateEnergy     float64
}

func (ev *evaluation) energy() float64 {
	return ev.imageEnergy + ev.velocityEnergy + ev.rateEnergy
}

// deformed returns the moving image at time 1 including the bias
func (ev *evaluation) deformed() *models.Field {
	if ev.bias == nil {
		return ev.warped
	}
	out := ev.warped.Clone()
	floats.Add(out.Data, ev.bias.Data)
	return out
}

// evaluate computes the transform, bias and energies for a candidate
func (e *Engine) evaluate(velocity, rate *models.TimeVaryingField) (*evaluation, error) {
	ev := &evaluation{velocity: velocity, rate: rate}

	disp, err := e.integrator.Integrate(velocity, 0, 1, nil)
	if err != nil {
		return nil, errors.Wrap(err, "integrating velocity")
	}
	ev.displacement = disp
	ev.warped = interpolation.Warp(e.moving, disp, interpolation.Linear{}, e.workers)
	ev.mask = e.combinedMask(e.movingMask, disp)

	if rate != nil {
		if ev.bias, err = e.integrateRate(velocity, rate); err != nil {
			return nil, err
		}
	}

	if ev.imageEnergy, err = e.metric.Value(ev.deformed(), e.fixed, ev.mask); err != nil {
		return nil, err
	}
	v, err := e.velocityKernel.Norm(velocity)
	if err != nil {
		return nil, errors.Wrap(err, "velocity energy")
	}
	ev.velocityEnergy = 0.5 * v

	if rate != nil {
		r, err := e.rateKernel.Norm(rate)
		if err != nil {
			return nil, errors.Wrap(err, "rate energy")
		}
		ev.rateEnergy = 0.5 * r
	}
	return ev, nil
}

// integrateRate accumulates the rate along the characteristics ending at
// time 1: B(x) = mu * sum_k dt * r_k(psi_k(x)), psi_k being the position at
// the centre of frame k of the particle found at x at time 1.
func (e *Engine) integrateRate(velocity, rate *models.TimeVaryingField) (*models.Field, error) {
	bias := models.NewImage(e.geometry)
	dt := rate.TimeStep()
	for k, frame := range rate.Frames {
		tk := rate.FrameTime(k)
		psi, err := e.integrator.Integrate(velocity, tk, 1-tk, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "integrating to frame %d", k)
		}
		sampled := interpolation.Warp(frame, psi, interpolation.Linear{}, e.workers)
		floats.AddScaled(bias.Data, e.params.Mu*dt, sampled.Data)
	}
	return bias, nil
}

// combinedMask is the fixed mask times the moving mask carried through disp
func (e *Engine) combinedMask(movingMask, disp *models.Field) *models.Field {
	if movingMask == nil {
		return e.fixedMask
	}
	warped := interpolation.WarpMask(movingMask, disp, e.workers)
	if e.fixedMask != nil {
		for i, m := range e.fixedMask.Data {
			if m == 0 {
				warped.Data[i] = 0
			}
		}
	}
	return warped
}

// directions returns the preconditioned descent directions v + K_V g_v and
// r + K_R g_r at ev, g being the L2 gradients of the image energy.
func (e *Engine) directions(ev *evaluation) (dirV, dirR *models.TimeVaryingField, err error) {
	deriv, err := e.metric.Derivative(ev.deformed(), e.fixed, ev.mask)
	if err != nil {
		return nil, nil, err
	}

	v := ev.velocity
	steps := v.NumberOfTimeSteps()
	gradV := models.NewTimeVaryingField(e.geometry, e.geometry.Dimension(), steps)
	var gradR *models.TimeVaryingField
	if ev.rate != nil {
		gradR = models.NewTimeVaryingField(e.geometry, 1, steps)
	}

	dim := e.geometry.Dimension()
	for k := 0; k < steps; k++ {
		tk := v.FrameTime(k)

		toZero, err := e.integrator.Integrate(v, 0, tk, nil)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "integrating frame %d to time 0", k)
		}
		toOne, err := e.integrator.Integrate(v, 1, tk-1, nil)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "integrating frame %d to time 1", k)
		}

		imageAtTk := interpolation.Warp(e.moving, toZero, interpolation.Linear{}, e.workers)
		grad := metric.Gradient(imageAtTk, e.workers)

		transported := interpolation.Warp(deriv, toOne, interpolation.Linear{}, e.workers)
		if e.params.UseJacobian {
			jac := integration.JacobianDeterminant(toOne, e.workers)
			for i, j := range jac.Data {
				transported.Data[i] *= math.Abs(j)
			}
		}

		gv := gradV.Frames[k]
		parallel.For(e.workers, e.geometry.NumberOfPixels(), func(start, end int) {
			for off := start; off < end; off++ {
				d := transported.Data[off]
				for c := 0; c < dim; c++ {
					gv.Data[off*dim+c] = -d * grad.Data[off*dim+c]
				}
			}
		})
		if gradR != nil {
			floats.AddScaled(gradR.Frames[k].Data, e.params.Mu, transported.Data)
		}
	}

	if dirV, err = e.velocityKernel.Smooth(gradV); err != nil {
		return nil, nil, errors.Wrap(err, "smoothing velocity gradient")
	}
	if err = dirV.AddScaled(1, v); err != nil {
		return nil, nil, err
	}
	if gradR != nil {
		if dirR, err = e.rateKernel.Smooth(gradR); err != nil {
			return nil, nil, errors.Wrap(err, "smoothing rate gradient")
		}
		if err = dirR.AddScaled(1, ev.rate); err != nil {
			return nil, nil, err
		}
	}
	return dirV, dirR, nil
}
