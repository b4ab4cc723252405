// Package registration implements diffeomorphic metamorphosis: a time-varying
// velocity field deforms the moving image onto the fixed image while an
// optional rate field accumulates a smooth intensity correction (the bias).
//
// The optimisation is a preconditioned gradient descent with step halving.
// A candidate is accepted only if the total energy does not increase, so the
// energies in History are non-increasing.
package registration

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"metareg/internal/logger"
	"metareg/internal/models"
	"metareg/internal/parallel"
	"metareg/pkg/integration"
	"metareg/pkg/interpolation"
	"metareg/pkg/metric"
	"metareg/pkg/spectral"
)

// Engine owns the velocity and rate fields, their kernels and the run state.
// It is not safe for concurrent use; the numerical work inside each call is
// parallelised internally.
type Engine struct {
	params   Params
	log      logger.ILogger
	observer Observer
	workers  int

	integrator       Integrator
	customIntegrator bool
	metric           metric.Metric

	fixed, moving         *models.Field
	fixedMask, movingMask *models.Field
	geometry              models.Geometry

	velocityKernel Regularizer
	rateKernel     Regularizer

	current        *evaluation
	maxImageEnergy float64
	minImageEnergy float64

	status       Status
	iteration    int
	learningRate float64
	rejections   int
	started      time.Time
	history      []IterationReport
}

// NewEngine creates an engine with the given settings. Settings are checked
// by Initialize. A nil log discards messages.
func NewEngine(params Params, log logger.ILogger) *Engine {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Engine{
		params: params,
		log:    log,
		status: Uninitialized,
	}
}

// Params returns the current settings
func (e *Engine) Params() Params {
	return e.params
}

// SetParams replaces the settings and discards any run in progress
func (e *Engine) SetParams(p Params) {
	e.params = p
	e.reset()
}

// SetFixedImage sets the target image, which also defines the registration grid
func (e *Engine) SetFixedImage(img *models.Field) {
	e.fixed = img
	e.reset()
}

// SetMovingImage sets the image to deform
func (e *Engine) SetMovingImage(img *models.Field) {
	e.moving = img
	e.reset()
}

// SetFixedMask restricts the image energy to non-zero samples of mask
func (e *Engine) SetFixedMask(mask *models.Field) {
	e.fixedMask = mask
	e.reset()
}

// SetMovingMask restricts the image energy to samples whose deformed
// position falls on a non-zero sample of mask
func (e *Engine) SetMovingMask(mask *models.Field) {
	e.movingMask = mask
	e.reset()
}

// SetIntegrator replaces the semi-Lagrangian integrator. Nil restores it.
func (e *Engine) SetIntegrator(integ Integrator) {
	e.integrator = integ
	e.customIntegrator = integ != nil
	e.reset()
}

// SetObserver installs a callback for iteration reports
func (e *Engine) SetObserver(obs Observer) {
	e.observer = obs
}

func (e *Engine) reset() {
	e.status = Uninitialized
	e.current = nil
	e.history = nil
	e.iteration = 0
}

// Initialize validates the inputs, allocates zero velocity (and rate) fields,
// builds the kernels and computes the reference energies.
func (e *Engine) Initialize() error {
	e.reset()
	if err := e.params.Validate(); err != nil {
		return err
	}
	if e.fixed == nil {
		return errors.Wrap(ErrMissingImage, "no fixed image")
	}
	if e.moving == nil {
		return errors.Wrap(ErrMissingImage, "no moving image")
	}
	if err := e.fixed.Geometry.Validate(); err != nil {
		return errors.Wrap(err, "fixed image")
	}
	inputs := []struct {
		name string
		f    *models.Field
	}{
		{"fixed image", e.fixed},
		{"moving image", e.moving},
		{"fixed mask", e.fixedMask},
		{"moving mask", e.movingMask},
	}
	for _, in := range inputs {
		if in.f == nil {
			continue
		}
		if in.f.Components != 1 {
			return errors.Wrapf(ErrGeometryMismatch, "%s has %d components, expected a scalar image", in.name, in.f.Components)
		}
		if !in.f.Geometry.Equal(e.fixed.Geometry) {
			return errors.Wrapf(ErrGeometryMismatch, "%s grid %v differs from fixed grid %v", in.name, in.f.Geometry.Size, e.fixed.Geometry.Size)
		}
	}

	e.status = Initializing
	e.geometry = e.fixed.Geometry.Clone()
	e.workers = parallel.Workers(e.params.NumCores)
	e.metric = metric.MeanSquares{Sigma: e.params.Sigma, Workers: e.workers}
	if !e.customIntegrator {
		e.integrator = integration.NewSemiLagrangian(e.integrationOptions())
	}

	var err error
	e.velocityKernel, err = spectral.NewOperator(e.geometry, e.params.RegistrationSmoothness, e.params.Gamma, e.workers)
	if err != nil {
		e.status = Uninitialized
		return errors.Wrapf(ErrInvalidParameter, "velocity kernel: %v", err)
	}
	if e.params.UseBias {
		e.rateKernel, err = spectral.NewOperator(e.geometry, e.params.BiasSmoothness, e.params.Gamma, e.workers)
		if err != nil {
			e.status = Uninitialized
			return errors.Wrapf(ErrInvalidParameter, "rate kernel: %v", err)
		}
	}

	velocity := models.NewTimeVaryingField(e.geometry, e.geometry.Dimension(), e.params.NumberOfTimeSteps)
	var rate *models.TimeVaryingField
	if e.params.UseBias {
		rate = models.NewTimeVaryingField(e.geometry, 1, e.params.NumberOfTimeSteps)
	}

	if e.maxImageEnergy, err = e.metric.Value(e.moving, e.fixed, e.combinedMask(e.movingMask, nil)); err != nil {
		e.status = Uninitialized
		return err
	}
	if e.minImageEnergy, err = e.metric.Value(e.fixed, e.fixed, e.fixedMask); err != nil {
		e.status = Uninitialized
		return err
	}
	if e.current, err = e.evaluate(velocity, rate); err != nil {
		e.status = Uninitialized
		return err
	}

	e.learningRate = e.params.Scale
	e.rejections = 0
	e.started = time.Now()
	e.status = Iterating

	e.log.Infof("Registration grid %v, spacing %v, %d time steps, bias %v, %d workers",
		e.geometry.Size, e.geometry.Spacing, e.params.NumberOfTimeSteps, e.params.UseBias, e.workers)
	e.log.Infof("Initial image energy %.6g (range %.6g to %.6g)", e.current.imageEnergy, e.minImageEnergy, e.maxImageEnergy)

	e.checkTermination()
	return nil
}

func (e *Engine) integrationOptions() integration.Options {
	return integration.Options{
		NumberOfIterations: e.params.IntegrationIterations,
		Workers:            e.workers,
	}
}

// Step runs one iteration: it computes the descent directions and halves the
// learning rate until a candidate does not increase the total energy, or the
// rate falls below MinLearningRate. Step is a no-op once the run has ended.
func (e *Engine) Step() error {
	switch {
	case e.status == Uninitialized || e.status == Initializing:
		return ErrNotInitialized
	case e.status.Terminal():
		return nil
	}

	dirV, dirR, err := e.directions(e.current)
	if err != nil {
		return errors.Wrapf(err, "iteration %d", e.iteration)
	}

	for {
		if e.learningRate < e.params.MinLearningRate {
			e.finish(Stalled)
			return nil
		}

		velocity := e.current.velocity.Clone()
		if err := velocity.AddScaled(-e.learningRate, dirV); err != nil {
			return err
		}
		var rate *models.TimeVaryingField
		if dirR != nil {
			rate = e.current.rate.Clone()
			if err := rate.AddScaled(-e.learningRate, dirR); err != nil {
				return err
			}
		}

		candidate, err := e.evaluate(velocity, rate)
		if err != nil {
			return errors.Wrapf(err, "iteration %d", e.iteration)
		}

		if candidate.energy() <= e.current.energy() {
			e.log.Debugf("Iteration %d: accepted energy %.6g (image %.6g) at learning rate %g",
				e.iteration+1, candidate.energy(), candidate.imageEnergy, e.learningRate)
			e.current = candidate
			e.iteration++
			e.report()
			e.rejections = 0
			e.checkTermination()
			return nil
		}

		e.log.Debugf("Iteration %d: rejected energy %.6g > %.6g at learning rate %g",
			e.iteration+1, candidate.energy(), e.current.energy(), e.learningRate)
		e.rejections++
		e.learningRate /= 2
	}
}

// Run iterates until a terminal state. ctx is checked between iterations.
func (e *Engine) Run(ctx context.Context) error {
	if e.status == Uninitialized {
		if err := e.Initialize(); err != nil {
			return err
		}
	}
	for !e.status.Terminal() {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "registration interrupted after %d iterations", e.iteration)
		}
		if err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}

// checkTermination applies the stopping rules in order: energy fraction,
// learning rate, iteration count. A moving image that already matches the
// fixed image leaves an empty energy range and counts as converged.
func (e *Engine) checkTermination() {
	switch {
	case !(e.maxImageEnergy-e.minImageEnergy > 0):
		e.finish(Converged)
	case e.ImageEnergyFraction() < e.params.MinImageEnergyFraction:
		e.finish(Converged)
	case e.learningRate < e.params.MinLearningRate:
		e.finish(Stalled)
	case e.iteration >= e.params.NumberOfIterations:
		e.finish(MaxIterationsReached)
	}
}

func (e *Engine) finish(s Status) {
	e.status = s
	e.log.Infof("Registration %s after %d iterations: energy %.6g, image energy fraction %.4g, learning rate %g",
		s, e.iteration, e.Energy(), e.ImageEnergyFraction(), e.learningRate)
	e.report()
}

func (e *Engine) report() {
	r := IterationReport{
		Iteration:           e.iteration,
		Status:              e.status,
		Energy:              e.Energy(),
		ImageEnergy:         e.ImageEnergy(),
		VelocityEnergy:      e.VelocityEnergy(),
		RateEnergy:          e.RateEnergy(),
		ImageEnergyFraction: e.ImageEnergyFraction(),
		LearningRate:        e.learningRate,
		Rejections:          e.rejections,
		Elapsed:             time.Since(e.started),
	}
	e.history = append(e.history, r)
	if e.observer != nil {
		e.observer(r)
	}
}

// Status returns the run state
func (e *Engine) Status() Status {
	return e.status
}

// Iteration returns the number of accepted steps
func (e *Engine) Iteration() int {
	return e.iteration
}

// LearningRate returns the current step size
func (e *Engine) LearningRate() float64 {
	return e.learningRate
}

// History returns the reports of every accepted step and the terminal state
func (e *Engine) History() []IterationReport {
	return append([]IterationReport(nil), e.history...)
}

// ImageEnergy returns the data term at the current iterate
func (e *Engine) ImageEnergy() float64 {
	if e.current == nil {
		return 0
	}
	return e.current.imageEnergy
}

// VelocityEnergy returns half the squared velocity norm
func (e *Engine) VelocityEnergy() float64 {
	if e.current == nil {
		return 0
	}
	return e.current.velocityEnergy
}

// RateEnergy returns half the squared rate norm, zero without bias estimation
func (e *Engine) RateEnergy() float64 {
	if e.current == nil {
		return 0
	}
	return e.current.rateEnergy
}

// Energy returns the total energy
func (e *Engine) Energy() float64 {
	if e.current == nil {
		return 0
	}
	return e.current.energy()
}

// ImageEnergyFraction returns the image energy normalised to the range
// between the fixed image against itself and the undeformed moving image.
// It is zero when that range is empty.
func (e *Engine) ImageEnergyFraction() float64 {
	span := e.maxImageEnergy - e.minImageEnergy
	if e.current == nil || !(span > 0) {
		return 0
	}
	return (e.current.imageEnergy - e.minImageEnergy) / span
}

// ImageEnergyOf evaluates the data term for another moving image (and moving
// mask) under the current transform and bias. The engine state is unchanged.
func (e *Engine) ImageEnergyOf(moving, movingMask *models.Field) (float64, error) {
	if e.current == nil {
		return 0, ErrNotInitialized
	}
	for _, f := range []*models.Field{moving, movingMask} {
		if f != nil && (f.Components != 1 || !f.Geometry.Equal(e.geometry)) {
			return 0, errors.Wrap(ErrGeometryMismatch, "image grid differs from the registration grid")
		}
	}
	if moving == nil {
		return 0, errors.Wrap(ErrMissingImage, "no moving image")
	}

	deformed := interpolation.Warp(moving, e.current.displacement, interpolation.Linear{}, e.workers)
	if e.current.bias != nil {
		floats.Add(deformed.Data, e.current.bias.Data)
	}
	return e.metric.Value(deformed, e.fixed, e.combinedMask(movingMask, e.current.displacement))
}

// Length returns the path length sum_k dt * ||v_k||_V of the velocity
func (e *Engine) Length() (float64, error) {
	if e.current == nil {
		return 0, ErrNotInitialized
	}
	v := e.current.velocity
	length := 0.0
	for k, frame := range v.Frames {
		n, err := e.velocityKernel.FrameNorm(frame)
		if err != nil {
			return 0, errors.Wrapf(err, "frame %d", k)
		}
		length += math.Sqrt(math.Max(n, 0))
	}
	return length * v.TimeStep(), nil
}

// Bias returns the current bias image; zero when bias estimation is off
func (e *Engine) Bias() *models.Field {
	if e.current == nil {
		return nil
	}
	if e.current.bias == nil {
		return models.NewImage(e.geometry)
	}
	return e.current.bias.Clone()
}

// Displacement returns the current displacement: fixed-grid point x maps to
// x + u(x) in the moving image
func (e *Engine) Displacement() *models.Field {
	if e.current == nil {
		return nil
	}
	return e.current.displacement.Clone()
}

// DeformedImage returns the moving image carried to time 1, bias included
func (e *Engine) DeformedImage() *models.Field {
	if e.current == nil {
		return nil
	}
	return e.current.deformed().Clone()
}

// Velocity returns a copy of the current velocity field
func (e *Engine) Velocity() *models.TimeVaryingField {
	if e.current == nil {
		return nil
	}
	return e.current.velocity.Clone()
}

// Rate returns a copy of the current rate field, nil without bias estimation
func (e *Engine) Rate() *models.TimeVaryingField {
	if e.current == nil || e.current.rate == nil {
		return nil
	}
	return e.current.rate.Clone()
}

// Transform integrates the current velocity into a transform carrying both
// the forward and inverse displacement
func (e *Engine) Transform() (*integration.Transform, error) {
	if e.current == nil {
		return nil, ErrNotInitialized
	}
	tr := integration.NewTransform(e.current.velocity.Clone(), integration.NewSemiLagrangian(e.integrationOptions()))
	tr.UseInverse = true
	if err := tr.IntegrateVelocityField(); err != nil {
		return nil, err
	}
	return tr, nil
}
