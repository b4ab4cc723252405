package integration

import (
	"github.com/pkg/errors"

	"metareg/internal/models"
	"metareg/pkg/extrapolation"
)

// Transform is a diffeomorphism parametrised by a time-varying velocity field.
// After IntegrateVelocityField, TransformPoint maps a point of the domain at
// UpperTimeBound to its position at LowerTimeBound, which is where a moving
// image has to be sampled to bring it onto the fixed grid.
type Transform struct {
	Velocity       *models.TimeVaryingField
	Integrator     *SemiLagrangian
	LowerTimeBound float64
	UpperTimeBound float64

	// UseInverse also integrates the inverse map
	UseInverse bool

	displacement *models.Field
	inverse      *models.Field
}

// NewTransform creates a transform over [0,1]
func NewTransform(velocity *models.TimeVaryingField, integrator *SemiLagrangian) *Transform {
	if integrator == nil {
		integrator = NewSemiLagrangian(Options{})
	}
	return &Transform{
		Velocity:       velocity,
		Integrator:     integrator,
		LowerTimeBound: 0,
		UpperTimeBound: 1,
	}
}

// IntegrateVelocityField recomputes the displacement (and inverse) fields
func (t *Transform) IntegrateVelocityField() error {
	span := t.UpperTimeBound - t.LowerTimeBound
	disp, err := t.Integrator.Integrate(t.Velocity, t.LowerTimeBound, span, nil)
	if err != nil {
		return errors.Wrap(err, "integrating forward displacement")
	}
	t.displacement = disp

	t.inverse = nil
	if t.UseInverse {
		inv, err := t.Integrator.Integrate(t.Velocity, t.UpperTimeBound, -span, nil)
		if err != nil {
			return errors.Wrap(err, "integrating inverse displacement")
		}
		t.inverse = inv
	}
	return nil
}

// Displacement returns the forward displacement, nil before integration
func (t *Transform) Displacement() *models.Field {
	return t.displacement
}

// InverseDisplacement returns the inverse displacement, nil unless UseInverse
func (t *Transform) InverseDisplacement() *models.Field {
	return t.inverse
}

// TransformPoint maps p through the forward displacement
func (t *Transform) TransformPoint(p []float64) ([]float64, error) {
	return applyDisplacement(t.displacement, p)
}

// InverseTransformPoint maps p through the inverse displacement
func (t *Transform) InverseTransformPoint(p []float64) ([]float64, error) {
	return applyDisplacement(t.inverse, p)
}

func applyDisplacement(disp *models.Field, p []float64) ([]float64, error) {
	if disp == nil {
		return nil, errors.New("displacement has not been integrated")
	}
	w, err := extrapolation.NewWrap(disp, nil)
	if err != nil {
		return nil, err
	}
	u := make([]float64, len(p))
	w.EvaluateAtPoint(p, u)
	out := make([]float64, len(p))
	for d := range p {
		out[d] = p[d] + u[d]
	}
	return out, nil
}
