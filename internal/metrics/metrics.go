// Package metrics exports registration progress to prometheus
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metareg/pkg/registration"
)

var statuses = []registration.Status{
	registration.Uninitialized,
	registration.Initializing,
	registration.Iterating,
	registration.Converged,
	registration.MaxIterationsReached,
	registration.Stalled,
}

// Recorder turns iteration reports into prometheus series
type Recorder struct {
	iterations   prometheus.Counter
	rejections   prometheus.Counter
	energy       *prometheus.GaugeVec
	fraction     prometheus.Gauge
	learningRate prometheus.Gauge
	stepDuration prometheus.Histogram
	status       *prometheus.GaugeVec

	lastElapsed time.Duration
}

// NewRecorder registers the registration collectors with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "metareg_iterations_total",
			Help: "Number of accepted optimisation steps.",
		}),
		rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "metareg_rejected_steps_total",
			Help: "Number of candidate steps rejected for increasing the energy.",
		}),
		energy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metareg_energy",
			Help: "Registration energy by term.",
		}, []string{"term"}),
		fraction: factory.NewGauge(prometheus.GaugeOpts{
			Name: "metareg_image_energy_fraction",
			Help: "Image energy normalised to its initial range.",
		}),
		learningRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "metareg_learning_rate",
			Help: "Current optimisation step size.",
		}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "metareg_step_duration_seconds",
			Help:    "Wall time per accepted step.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metareg_status",
			Help: "1 for the current engine state, 0 otherwise.",
		}, []string{"status"}),
	}
}

// Observe records a report. It has the signature of registration.Observer.
func (r *Recorder) Observe(rep registration.IterationReport) {
	r.energy.WithLabelValues("total").Set(rep.Energy)
	r.energy.WithLabelValues("image").Set(rep.ImageEnergy)
	r.energy.WithLabelValues("velocity").Set(rep.VelocityEnergy)
	r.energy.WithLabelValues("rate").Set(rep.RateEnergy)
	r.fraction.Set(rep.ImageEnergyFraction)
	r.learningRate.Set(rep.LearningRate)
	r.rejections.Add(float64(rep.Rejections))

	for _, s := range statuses {
		v := 0.0
		if s == rep.Status {
			v = 1
		}
		r.status.WithLabelValues(s.String()).Set(v)
	}

	if rep.Status == registration.Iterating {
		r.iterations.Inc()
		r.stepDuration.Observe((rep.Elapsed - r.lastElapsed).Seconds())
	}
	r.lastElapsed = rep.Elapsed
}

// Handler serves the collectors of gatherer in the text exposition format
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
