package registration

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrMissingImage is returned by Initialize without a fixed or moving image
	ErrMissingImage = errors.New("missing image")

	// ErrGeometryMismatch is returned when images and masks are on different grids
	ErrGeometryMismatch = errors.New("image geometry mismatch")

	// ErrInvalidParameter is returned for settings outside their valid range
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotInitialized is returned by Step and Run before Initialize
	ErrNotInitialized = errors.New("engine not initialized")
)

// Status is the state of the optimisation
type Status int

const (
	Uninitialized Status = iota
	Initializing
	Iterating
	Converged
	MaxIterationsReached
	// Stalled means the learning rate fell below MinLearningRate before the
	// energy criterion was met
	Stalled
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Iterating:
		return "Iterating"
	case Converged:
		return "Converged"
	case MaxIterationsReached:
		return "MaxIterationsReached"
	case Stalled:
		return "Stalled"
	}
	return "Unknown"
}

// Terminal reports whether the run has finished
func (s Status) Terminal() bool {
	return s == Converged || s == MaxIterationsReached || s == Stalled
}

// IterationReport summarises the engine after an accepted step or on reaching
// a terminal state
type IterationReport struct {
	Iteration           int
	Status              Status
	Energy              float64
	ImageEnergy         float64
	VelocityEnergy      float64
	RateEnergy          float64
	ImageEnergyFraction float64
	LearningRate        float64

	// Rejections counts the candidates discarded before this report
	Rejections int
	Elapsed    time.Duration
}

// Observer receives iteration reports. It runs on the optimisation goroutine.
type Observer func(IterationReport)
