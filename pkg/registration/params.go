package registration

import (
	"runtime"

	"github.com/pkg/errors"

	"metareg/pkg/integration"
)

// Params holds the registration settings
type Params struct {
	// Scale is the initial learning rate
	Scale float64

	// RegistrationSmoothness is the Laplacian weight of the velocity kernel
	RegistrationSmoothness float64

	// BiasSmoothness is the Laplacian weight of the rate kernel
	BiasSmoothness float64

	// Sigma is the noise level of the image term
	Sigma float64

	// Mu couples the rate field into the bias image
	Mu float64

	// Gamma is the constant term of both kernels
	Gamma float64

	// MinLearningRate ends the run as Stalled once the step shrinks below it
	MinLearningRate float64

	// MinImageEnergyFraction ends the run as Converged once the normalised
	// image energy falls below it. Zero disables the criterion.
	MinImageEnergyFraction float64

	NumberOfTimeSteps  int
	NumberOfIterations int

	// UseJacobian weights the transported image derivative by the volume
	// change of the transform
	UseJacobian bool

	// UseBias estimates a photometric rate field alongside the velocity
	UseBias bool

	// IntegrationIterations is the fixed-point count of the integrator, at least 1
	IntegrationIterations int

	// NumCores is the worker count, 0 for all CPUs
	NumCores int
}

// DefaultParams returns the default settings
func DefaultParams() Params {
	return Params{
		Scale:                  1.0,
		RegistrationSmoothness: 0.01,
		BiasSmoothness:         0.05,
		Sigma:                  1.0,
		Mu:                     10.0,
		Gamma:                  1.0,
		MinLearningRate:        1e-8,
		MinImageEnergyFraction: 0,
		NumberOfTimeSteps:      4,
		NumberOfIterations:     100,
		UseJacobian:            true,
		UseBias:                false,
		IntegrationIterations:  integration.DefaultNumberOfIterations,
		NumCores:               runtime.NumCPU(),
	}
}

type namedValue struct {
	name  string
	value float64
}

// Validate rejects settings the engine cannot run with. Nothing is clamped.
func (p Params) Validate() error {
	positive := []namedValue{
		{"Scale", p.Scale},
		{"Sigma", p.Sigma},
		{"Gamma", p.Gamma},
		{"RegistrationSmoothness", p.RegistrationSmoothness},
	}
	if p.UseBias {
		positive = append(positive, namedValue{"BiasSmoothness", p.BiasSmoothness}, namedValue{"Mu", p.Mu})
	}
	for _, v := range positive {
		if !(v.value > 0) {
			return errors.Wrapf(ErrInvalidParameter, "%s must be positive, got %g", v.name, v.value)
		}
	}

	if p.MinLearningRate < 0 {
		return errors.Wrapf(ErrInvalidParameter, "MinLearningRate must not be negative, got %g", p.MinLearningRate)
	}
	if p.MinImageEnergyFraction < 0 {
		return errors.Wrapf(ErrInvalidParameter, "MinImageEnergyFraction must not be negative, got %g", p.MinImageEnergyFraction)
	}
	if p.NumberOfTimeSteps < 1 {
		return errors.Wrapf(ErrInvalidParameter, "NumberOfTimeSteps must be at least 1, got %d", p.NumberOfTimeSteps)
	}
	if p.NumberOfIterations < 0 {
		return errors.Wrapf(ErrInvalidParameter, "NumberOfIterations must not be negative, got %d", p.NumberOfIterations)
	}
	if p.IntegrationIterations < 1 {
		return errors.Wrapf(ErrInvalidParameter, "IntegrationIterations must be at least 1, got %d", p.IntegrationIterations)
	}
	return nil
}
